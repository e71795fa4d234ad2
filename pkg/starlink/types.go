package starlink

// StatusResponse is the response to the get_status method
type StatusResponse struct {
	DishGetStatus struct {
		DeviceInfo struct {
			ID              string `json:"id"`
			HardwareVersion string `json:"hardwareVersion"`
			SoftwareVersion string `json:"softwareVersion"`
			BootCount       int    `json:"bootCount"`
		} `json:"deviceInfo"`

		DeviceState struct {
			UptimeS string `json:"uptimeS"` // comes as string from the API
		} `json:"deviceState"`

		ObstructionStats struct {
			CurrentlyObstructed bool    `json:"currentlyObstructed"`
			FractionObstructed  float64 `json:"fractionObstructed"`
			ValidS              int     `json:"validS"`
		} `json:"obstructionStats"`

		PopPingLatencyMs      float64 `json:"popPingLatencyMs"`
		PopPingDropRate       float64 `json:"popPingDropRate"`
		DownlinkThroughputBps float64 `json:"downlinkThroughputBps"`
		UplinkThroughputBps   float64 `json:"uplinkThroughputBps"`

		SNR                  float64 `json:"snr"`
		IsSnrAboveNoiseFloor bool    `json:"isSnrAboveNoiseFloor"`
		IsSnrPersistentlyLow bool    `json:"isSnrPersistentlyLow"`

		Alerts Alerts `json:"alerts"`

		SoftwareUpdateState string `json:"softwareUpdateState"`
		SwupdateRebootReady bool   `json:"swupdateRebootReady"`
	} `json:"dishGetStatus"`
}

// Alerts are the dish alert flags relevant to health assessment
type Alerts struct {
	MotorsStuck          bool `json:"motorsStuck"`
	ThermalThrottle      bool `json:"thermalThrottle"`
	ThermalShutdown      bool `json:"thermalShutdown"`
	MastNotNearVertical  bool `json:"mastNotNearVertical"`
	UnexpectedLocation   bool `json:"unexpectedLocation"`
	SlowEthernetSpeeds   bool `json:"slowEthernetSpeeds"`
	Roaming              bool `json:"roaming"`
	InstallPending       bool `json:"installPending"`
	IsHeating            bool `json:"isHeating"`
	PowerSupplyThermal   bool `json:"powerSupplyThermalThrottle"`
	IsPowerSaveIdle      bool `json:"isPowerSaveIdle"`
	MovingWhileNotMobile bool `json:"movingWhileNotMobile"`
	MovingTooFastForP    bool `json:"movingTooFastForPolicy"`
	DbfTelemStale        bool `json:"dbfTelemStale"`
	LowMotorCurrent      bool `json:"lowMotorCurrent"`
}

// DiagnosticsResponse is the response to the get_diagnostics method
type DiagnosticsResponse struct {
	DishGetDiagnostics struct {
		HardwareSelfTest string `json:"hardwareSelfTest"`

		DisablementCode string  `json:"disablementCode"`
		ThermalThrottle bool    `json:"thermalThrottle"`
		ThermalShutdown bool    `json:"thermalShutdown"`
		Temperature     float64 `json:"temperature"`

		DLBandwidthRestrictedReason string `json:"dlBandwidthRestrictedReason"`
		ULBandwidthRestrictedReason string `json:"ulBandwidthRestrictedReason"`

		SoftwareUpdateState string `json:"softwareUpdateState"`
	} `json:"dishGetDiagnostics"`
}
