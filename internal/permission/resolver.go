// Package permission decides whether an API key may perform an action on a
// table, from the rules the admin UI stores per (key, database).
package permission

import (
	"context"
	"database/sql"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Annany2002/nebula-gateway/internal/core"
	"github.com/Annany2002/nebula-gateway/internal/domain"
	"github.com/Annany2002/nebula-gateway/internal/logger"
	"github.com/Annany2002/nebula-gateway/internal/storage"
)

var customLog = logger.NewLogger()

// Reason names why a request was denied.
type Reason string

const (
	ReasonInvalidKey       Reason = "invalid_key"
	ReasonInactiveKey      Reason = "inactive_key"
	ReasonCapabilityDenied Reason = "capability_denied"
	ReasonIPDenied         Reason = "ip_denied"
)

// Decision is the outcome of Authorize. Rule is the rule that decided, nil
// when the key had no rule on the database.
type Decision struct {
	Allowed bool
	Reason  Reason
	Rule    *domain.PermissionRule
}

// Err converts a denial into the error returned to the caller.
func (d Decision) Err() error {
	switch {
	case d.Allowed:
		return nil
	case d.Reason == ReasonInvalidKey:
		return core.Errorf(core.ErrUnauthenticated, "Invalid API key")
	case d.Reason == ReasonInactiveKey:
		return core.Errorf(core.ErrForbidden, "API key is inactive")
	case d.Reason == ReasonIPDenied:
		return core.Errorf(core.ErrForbidden, "Access denied from this IP address")
	default:
		return core.Errorf(core.ErrForbidden, "Permission denied")
	}
}

// Resolver evaluates permission rules stored in the metadata database.
type Resolver struct {
	metaDB *sql.DB
	// permissive grants full CRUD to a key that has no rule on a database.
	permissive bool
}

// NewResolver returns a Resolver. When permissive is false, a key without
// rules on a database is denied there.
func NewResolver(metaDB *sql.DB, permissive bool) *Resolver {
	return &Resolver{metaDB: metaDB, permissive: permissive}
}

// SelectRule returns the rule governing table: an exact table rule beats the
// wildcard rule, and among duplicates the lowest id wins. rules must be
// ordered by id.
func SelectRule(rules []domain.PermissionRule, table string) *domain.PermissionRule {
	var wildcard *domain.PermissionRule
	for i := range rules {
		r := &rules[i]
		if r.TableName == "" {
			if wildcard == nil {
				wildcard = r
			}
			continue
		}
		if strings.EqualFold(r.TableName, table) {
			return r
		}
	}
	return wildcard
}

// IPAllowed reports whether callerIP is allowed by the list. An empty list allows everyone.
func IPAllowed(allowed []string, callerIP string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, ip := range allowed {
		if strings.TrimSpace(ip) == callerIP {
			return true
		}
	}
	return false
}

// Authorize decides whether key may perform action on table of databaseID
// from callerIP. Denials are audit-logged.
func (r *Resolver) Authorize(ctx context.Context, key *domain.APIKey, databaseID int64, table string, action domain.Action, callerIP string) (Decision, error) {
	if key == nil {
		return r.deny(Decision{Reason: ReasonInvalidKey}, 0, databaseID, table, action, callerIP), nil
	}
	if !key.IsActive {
		return r.deny(Decision{Reason: ReasonInactiveKey}, key.ID, databaseID, table, action, callerIP), nil
	}

	rules, err := storage.ListPermissionRules(ctx, r.metaDB, key.ID, databaseID)
	if err != nil {
		return Decision{}, core.Wrap(core.ErrBackend, err, "Failed to load permission rules")
	}

	rule := SelectRule(rules, table)
	if rule == nil {
		if len(rules) == 0 && r.permissive {
			customLog.WithFields(logrus.Fields{
				"api_key_id": key.ID,
				"database":   databaseID,
				"table":      table,
				"action":     action,
			}).Warn("Permission: key has no rules on this database, allowing (PERMISSIVE_WITHOUT_RULES)")
			return Decision{Allowed: true}, nil
		}
		return r.deny(Decision{Reason: ReasonCapabilityDenied}, key.ID, databaseID, table, action, callerIP), nil
	}

	if !rule.Allows(action) {
		return r.deny(Decision{Reason: ReasonCapabilityDenied, Rule: rule}, key.ID, databaseID, table, action, callerIP), nil
	}
	if !IPAllowed(rule.AllowedIPs, callerIP) {
		return r.deny(Decision{Reason: ReasonIPDenied, Rule: rule}, key.ID, databaseID, table, action, callerIP), nil
	}
	return Decision{Allowed: true, Rule: rule}, nil
}

// VisibleTables filters tables down to those key may read from callerIP.
func (r *Resolver) VisibleTables(ctx context.Context, key *domain.APIKey, databaseID int64, tables []string, callerIP string) ([]string, error) {
	if key == nil || !key.IsActive {
		return nil, nil
	}
	rules, err := storage.ListPermissionRules(ctx, r.metaDB, key.ID, databaseID)
	if err != nil {
		return nil, core.Wrap(core.ErrBackend, err, "Failed to load permission rules")
	}
	if len(rules) == 0 {
		if r.permissive {
			return tables, nil
		}
		return nil, nil
	}

	visible := make([]string, 0, len(tables))
	for _, t := range tables {
		rule := SelectRule(rules, t)
		if rule != nil && rule.CanRead && IPAllowed(rule.AllowedIPs, callerIP) {
			visible = append(visible, t)
		}
	}
	return visible, nil
}

func (r *Resolver) deny(d Decision, keyID, databaseID int64, table string, action domain.Action, callerIP string) Decision {
	fields := logrus.Fields{
		"api_key_id": keyID,
		"database":   databaseID,
		"table":      table,
		"action":     action,
		"reason":     d.Reason,
		"client_ip":  callerIP,
	}
	if d.Rule != nil {
		fields["rule_id"] = d.Rule.ID
	}
	customLog.WithFields(fields).Warn("Permission: request denied")
	return d
}
