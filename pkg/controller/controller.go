// Package controller is the boundary between the decision engine and the
// platform routing layer. It pushes interface priorities into mwan3 (or
// netifd as a fallback) and keeps a read-back cache so repeated pushes of
// an unchanged priority become no-ops.
package controller

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/linkward/linkward/pkg"
	"github.com/linkward/linkward/pkg/logx"
	"github.com/linkward/linkward/pkg/uci"
)

// Controller implements pkg.RoutingController on OpenWrt/RUTOS
type Controller struct {
	mu         sync.Mutex
	logger     *logx.Logger
	useMwan3   bool
	dryRun     bool
	members    map[string]string // interface ID -> mwan3 member / netifd iface
	priorities map[string]int    // last applied (or read back) priority
}

// NewController creates a controller. It fails when neither mwan3 nor the
// netifd uci tooling is reachable: without a routing layer to drive, the
// daemon has no reason to run.
func NewController(cfg *uci.Config, interfaces []*pkg.Interface, logger *logx.Logger) (*Controller, error) {
	c := &Controller{
		logger:     logger,
		useMwan3:   cfg.UseMwan3,
		members:    make(map[string]string),
		priorities: make(map[string]int),
	}
	for _, iface := range interfaces {
		if c.useMwan3 {
			c.members[iface.ID] = iface.Mwan3Name
		} else {
			c.members[iface.ID] = iface.Iface
		}
	}

	if c.useMwan3 {
		if _, err := exec.LookPath("mwan3"); err != nil {
			logger.Warn("mwan3 not found, falling back to netifd metrics")
			c.useMwan3 = false
			for _, iface := range interfaces {
				c.members[iface.ID] = iface.Iface
			}
		}
	}
	if _, err := exec.LookPath("uci"); err != nil {
		return nil, fmt.Errorf("uci command not available: %w", err)
	}

	c.loadPriorities(context.Background())
	return c, nil
}

// SetDryRun makes ApplyPriority log intended changes without executing them
func (c *Controller) SetDryRun(dryRun bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dryRun = dryRun
}

// ApplyPriority sets the routing priority (mwan3/netifd metric) for one
// interface. Returns applied=false with a nil error when the interface
// already carries the requested priority.
func (c *Controller) ApplyPriority(ctx context.Context, interfaceID string, priority int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	member, ok := c.members[interfaceID]
	if !ok {
		return false, fmt.Errorf("unknown interface %s", interfaceID)
	}
	if current, ok := c.priorities[interfaceID]; ok && current == priority {
		return false, nil
	}

	if c.dryRun {
		c.logger.Info("dry-run: would apply priority",
			"interface", interfaceID, "member", member, "priority", priority)
		c.priorities[interfaceID] = priority
		return true, nil
	}

	var err error
	if c.useMwan3 {
		err = c.applyMwan3(ctx, member, priority)
	} else {
		err = c.applyNetifd(ctx, member, priority)
	}
	if err != nil {
		return false, err
	}

	c.priorities[interfaceID] = priority
	c.logger.Info("applied routing priority",
		"interface", interfaceID, "member", member, "priority", priority)
	return true, nil
}

// CurrentPriority returns the last known priority for an interface
func (c *Controller) CurrentPriority(interfaceID string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.priorities[interfaceID]
	return p, ok
}

// applyMwan3 rewrites the member metric and reloads mwan3
func (c *Controller) applyMwan3(ctx context.Context, member string, priority int) error {
	steps := [][]string{
		{"uci", "set", fmt.Sprintf("mwan3.%s.metric=%d", member, priority)},
		{"uci", "commit", "mwan3"},
		{"mwan3", "restart"},
	}
	for _, args := range steps {
		if out, err := c.run(ctx, args[0], args[1:]...); err != nil {
			return fmt.Errorf("%s failed: %w (%s)", strings.Join(args, " "), err, out)
		}
	}
	return nil
}

// applyNetifd rewrites the interface metric and reloads the network config
func (c *Controller) applyNetifd(ctx context.Context, iface string, priority int) error {
	steps := [][]string{
		{"uci", "set", fmt.Sprintf("network.%s.metric=%d", iface, priority)},
		{"uci", "commit", "network"},
		{"ubus", "call", "network", "reload"},
	}
	for _, args := range steps {
		if out, err := c.run(ctx, args[0], args[1:]...); err != nil {
			return fmt.Errorf("%s failed: %w (%s)", strings.Join(args, " "), err, out)
		}
	}
	return nil
}

// loadPriorities seeds the cache from the live uci state so the first
// tick after a restart does not blindly rewrite unchanged metrics.
func (c *Controller) loadPriorities(ctx context.Context) {
	for id, member := range c.members {
		var key string
		if c.useMwan3 {
			key = fmt.Sprintf("mwan3.%s.metric", member)
		} else {
			key = fmt.Sprintf("network.%s.metric", member)
		}
		out, err := c.run(ctx, "uci", "-q", "get", key)
		if err != nil {
			continue
		}
		if v, err := strconv.Atoi(strings.TrimSpace(out)); err == nil {
			c.priorities[id] = v
		}
	}
}

func (c *Controller) run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}
