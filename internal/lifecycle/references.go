package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// RefOrchestratorEndpoint is the reference the app declares for egress to
// the orchestrator: an external access integration plus the token secret.
const RefOrchestratorEndpoint = "ORCHESTRATOR_ENDPOINT"

const (
	refOpAdd    = "ADD"
	refOpRemove = "REMOVE"
	refOpClear  = "CLEAR"
)

// RegisterSingleReference services the platform's reference callback. An
// unknown operation is reported in the return value, never as an error:
// the platform treats a raised error as retriable and would loop on it.
func (c *Controller) RegisterSingleReference(ctx context.Context, refName, operation, refOrAlias string) (string, error) {
	switch strings.ToUpper(operation) {
	case refOpAdd:
		if _, err := c.db.Query(ctx, "SELECT SYSTEM$SET_REFERENCE(?, ?)", refName, refOrAlias); err != nil {
			return "", fmt.Errorf("set reference %s: %w", refName, err)
		}
	case refOpRemove:
		if _, err := c.db.Query(ctx, "SELECT SYSTEM$REMOVE_REFERENCE(?, ?)", refName, refOrAlias); err != nil {
			return "", fmt.Errorf("remove reference %s: %w", refName, err)
		}
	case refOpClear:
		if err := c.clearReference(ctx, refName); err != nil {
			return "", err
		}
	default:
		return "unknown operation: " + operation, nil
	}
	return fmt.Sprintf("operation %s on reference %s succeeded", operation, refName), nil
}

func (c *Controller) clearReference(ctx context.Context, refName string) error {
	rows, err := c.db.Query(ctx, "SELECT SYSTEM$GET_ALL_REFERENCES(?)", refName)
	if err != nil {
		return fmt.Errorf("list references %s: %w", refName, err)
	}

	var aliases []string
	if len(rows) > 0 && len(rows[0]) > 0 {
		if raw, ok := rows[0][0].(string); ok && raw != "" {
			if err := json.Unmarshal([]byte(raw), &aliases); err != nil {
				return fmt.Errorf("parse reference list %s: %w", refName, err)
			}
		}
	}
	for _, alias := range aliases {
		if _, err := c.db.Query(ctx, "SELECT SYSTEM$REMOVE_REFERENCE(?, ?)", refName, alias); err != nil {
			return fmt.Errorf("remove reference %s alias %s: %w", refName, alias, err)
		}
	}
	return nil
}

// GetConfigForReference returns the configuration payload the platform
// shows in the grant wizard for a reference. ORCHESTRATOR_ENDPOINT names
// the backend host and the secret that travels with the integration; any
// other reference gets an empty payload.
func (c *Controller) GetConfigForReference(refName string) (string, error) {
	payload := map[string]interface{}{}
	if strings.EqualFold(refName, RefOrchestratorEndpoint) {
		payload = map[string]interface{}{
			"host_ports":        []string{c.backendHostPort()},
			"allowed_secrets":   "LIST",
			"secret_references": []string{c.names.TokenSecret},
		}
	}
	doc, err := json.Marshal(map[string]interface{}{
		"type":    "CONFIGURATION",
		"payload": payload,
	})
	if err != nil {
		return "", err
	}
	return string(doc), nil
}

// backendHostPort is the orchestrator endpoint as host:port, defaulting
// the port to 443 the way network rules expect.
func (c *Controller) backendHostPort() string {
	u, err := url.Parse(c.cfg.BackendURL)
	if err != nil || u.Host == "" {
		return c.cfg.BackendURL
	}
	if u.Port() == "" {
		return net.JoinHostPort(u.Hostname(), "443")
	}
	return u.Host
}

// RotateToken rewrites the orchestrator credential secret and restarts the
// service so the container re-reads the mounted file.
func (c *Controller) RotateToken(ctx context.Context, keyID, keySecret string) error {
	payload, err := json.Marshal(map[string]string{
		"mcd_id":    keyID,
		"mcd_token": keySecret,
	})
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("ALTER SECRET %s SET SECRET_STRING = ?", c.names.TokenSecret)
	if _, err := c.db.Query(ctx, stmt, string(payload)); err != nil {
		return fmt.Errorf("rotate token secret: %w", err)
	}
	c.log.Info("orchestrator token rotated", "key_id", keyID)
	return c.Restart(ctx)
}
