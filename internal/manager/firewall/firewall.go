// Package firewall drives ufw.
package firewall

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/kyson/hostbridge/internal/adapter/logger"
	"github.com/kyson/hostbridge/internal/core/bridge"
	"github.com/kyson/hostbridge/internal/core/config"
	"github.com/kyson/hostbridge/internal/core/fallback"
)

// Rule is one parsed ufw rule.
type Rule struct {
	Port        int    `json:"port"`
	Protocol    string `json:"protocol"`
	Action      string `json:"action"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
}

type Manager struct {
	engine   *fallback.Engine
	defaults []config.PortRule
}

func New(engine *fallback.Engine, defaults []config.PortRule) *Manager {
	if engine == nil {
		engine = fallback.New(nil)
	}
	return &Manager{engine: engine, defaults: defaults}
}

func (m *Manager) Routes() bridge.Routes {
	return bridge.Routes{
		"firewallGetStatus":           bridge.NoInput(m.Status),
		"firewallSetEnabled":          bridge.Typed(m.SetEnabled),
		"firewallSetExceptionEnabled": bridge.Typed(m.SetExceptionEnabled),
		"firewallAddException":        bridge.Typed(m.AddException),
		"firewallRemoveException":     bridge.Typed(m.RemoveException),
		"firewallResetToDefaults":     bridge.NoInput(m.ResetToDefaults),
	}
}

// ufw runs one ufw step as the chain [ufw args, sudo ufw args].
func (m *Manager) ufw(ctx context.Context, args ...string) (string, error) {
	argv := append([]string{"ufw"}, args...)
	out, err := m.engine.Run(ctx, fallback.WithSudo(argv...)...)
	return out.Output, err
}

func failure(msg string, err error) bridge.Result {
	logger.Error(msg, "error", err)
	res := bridge.FailureFrom(err, nil)
	res.Message = msg
	return res.With("error", err.Error())
}

type statusData struct {
	Enabled bool   `json:"enabled"`
	Rules   []Rule `json:"rules"`
}

func (m *Manager) Status(ctx context.Context) (bridge.Result, error) {
	out, err := m.ufw(ctx, "status")
	if err != nil {
		return failure("Failed to get firewall status", err), nil
	}
	return bridge.Success(statusData{
		Enabled: strings.Contains(out, "Status: active"),
		Rules:   ParseRules(out),
	}), nil
}

var portPattern = regexp.MustCompile(`^(\d+)(/tcp|/udp)?$`)

// ParseRules reads the table that follows the "--" separator in
// `ufw status`. IPv6 duplicates are skipped.
func ParseRules(out string) []Rule {
	rules := []Rule{}
	inRules := false
	for _, line := range strings.Split(out, "\n") {
		if !inRules && strings.Contains(line, "--") {
			inRules = true
			continue
		}
		if !inRules || strings.TrimSpace(line) == "" || strings.Contains(line, "(v6)") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		match := portPattern.FindStringSubmatch(parts[0])
		if match == nil {
			continue
		}
		port, _ := strconv.Atoi(match[1])
		protocol := "tcp"
		if match[2] != "" {
			protocol = match[2][1:]
		}
		description := fmt.Sprintf("Port %d", port)
		if i := strings.Index(line, "#"); i >= 0 {
			description = strings.TrimSpace(line[i+1:])
		}
		action := strings.ToLower(parts[1])
		rules = append(rules, Rule{
			Port:        port,
			Protocol:    protocol,
			Action:      action,
			Description: description,
			Enabled:     action == "allow",
		})
	}
	return rules
}

type enabledIn struct {
	Enabled bool `json:"enabled"`
}

func (m *Manager) SetEnabled(ctx context.Context, in enabledIn) (bridge.Result, error) {
	verb := map[bool]string{true: "enable", false: "disable"}[in.Enabled]
	var err error
	if in.Enabled {
		err = m.resetBase(ctx)
		if err == nil {
			_, err = m.ufw(ctx, "--force", "enable")
		}
	} else {
		_, err = m.ufw(ctx, "--force", "disable")
	}
	if err != nil {
		return failure(fmt.Sprintf("Failed to %s firewall", verb), err), nil
	}
	return bridge.SuccessMessage(fmt.Sprintf("Firewall %sd successfully", verb), nil), nil
}

// resetBase wipes all rules and sets deny-in / allow-out.
func (m *Manager) resetBase(ctx context.Context) error {
	for _, step := range [][]string{
		{"--force", "reset"},
		{"default", "deny", "incoming"},
		{"default", "allow", "outgoing"},
	} {
		if _, err := m.ufw(ctx, step...); err != nil {
			return err
		}
	}
	return nil
}

type exceptionIn struct {
	Port        bridge.Int `json:"port"`
	Protocol    string     `json:"protocol"`
	Description string     `json:"description"`
	Enabled     *bool      `json:"enabled"`
}

type exceptionData struct {
	Port        int    `json:"port"`
	Protocol    string `json:"protocol"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
}

// validate normalizes protocol and checks both fields. It runs before
// every mutation.
func validate(port bridge.Int, protocol string) (int, string, *bridge.Result) {
	if !port.Set || port.Value < 1 || port.Value > 65535 {
		res := bridge.Failuref("Invalid port number. Must be between 1 and 65535.")
		return 0, "", &res
	}
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	if protocol == "" {
		protocol = "tcp"
	}
	if protocol != "tcp" && protocol != "udp" {
		res := bridge.Failuref("Invalid protocol. Must be tcp or udp.")
		return 0, "", &res
	}
	return port.Value, protocol, nil
}

func (m *Manager) AddException(ctx context.Context, in exceptionIn) (bridge.Result, error) {
	port, protocol, invalid := validate(in.Port, in.Protocol)
	if invalid != nil {
		return *invalid, nil
	}
	desc := description(in.Description, port)
	if _, err := m.ufw(ctx, "allow", fmt.Sprintf("%d/%s", port, protocol), "comment", desc); err != nil {
		return failure("Failed to add port", err), nil
	}
	return bridge.SuccessMessage(
		fmt.Sprintf("Port %d/%s added successfully", port, protocol),
		exceptionData{Port: port, Protocol: protocol, Description: desc, Enabled: true},
	), nil
}

func (m *Manager) SetExceptionEnabled(ctx context.Context, in exceptionIn) (bridge.Result, error) {
	port, protocol, invalid := validate(in.Port, in.Protocol)
	if invalid != nil {
		return *invalid, nil
	}
	enabled := in.Enabled == nil || *in.Enabled
	action, verb := "allow", "enable"
	if !enabled {
		action, verb = "deny", "disable"
	}
	desc := description(in.Description, port)
	if _, err := m.ufw(ctx, action, fmt.Sprintf("%d/%s", port, protocol), "comment", desc); err != nil {
		return failure(fmt.Sprintf("Failed to %s port", verb), err), nil
	}
	return bridge.SuccessMessage(
		fmt.Sprintf("Port %d/%s %sd successfully", port, protocol, verb),
		exceptionData{Port: port, Protocol: protocol, Description: desc, Enabled: enabled},
	), nil
}

// RemoveException deletes the rule whether it is an allow or a deny.
func (m *Manager) RemoveException(ctx context.Context, in exceptionIn) (bridge.Result, error) {
	port, protocol, invalid := validate(in.Port, in.Protocol)
	if invalid != nil {
		return *invalid, nil
	}
	spec := fmt.Sprintf("%d/%s", port, protocol)
	_, err := m.engine.Run(ctx, fallback.Chain(
		fallback.WithSudo("ufw", "delete", "allow", spec),
		fallback.WithSudo("ufw", "delete", "deny", spec),
	)...)
	if err != nil {
		return failure("Failed to remove port", err), nil
	}
	return bridge.SuccessMessage(fmt.Sprintf("Port %s removed successfully", spec), nil), nil
}

// ResetToDefaults resets ufw, restores the configured default rules and
// enables the firewall.
func (m *Manager) ResetToDefaults(ctx context.Context) (bridge.Result, error) {
	if err := m.resetBase(ctx); err != nil {
		return failure("Failed to reset firewall", err), nil
	}
	for _, rule := range m.defaults {
		res, _ := m.AddException(ctx, exceptionIn{Port: bridge.NewInt(rule.Port), Protocol: rule.Protocol, Description: rule.Description})
		if !res.OK() {
			logger.Warn("Default firewall rule not restored", "port", rule.Port, "message", res.Message)
		}
	}
	if _, err := m.ufw(ctx, "--force", "enable"); err != nil {
		return failure("Failed to reset firewall", err), nil
	}
	return bridge.SuccessMessage("Firewall reset to defaults successfully", nil), nil
}

func description(desc string, port int) string {
	if strings.TrimSpace(desc) == "" {
		return fmt.Sprintf("Port %d", port)
	}
	return desc
}
