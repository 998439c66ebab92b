package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/uktrade/tamato/internal/domain"
)

// DistinctApproverPolicy refuses approval by the workbasket's own author.
type DistinctApproverPolicy struct{}

// AuthorizeApproval authorizes approval.
func (DistinctApproverPolicy) AuthorizeApproval(_ context.Context, wb domain.Workbasket, approver string) error {
	author := strings.TrimSpace(wb.Author)
	if author != "" && strings.EqualFold(author, strings.TrimSpace(approver)) {
		return fmt.Errorf("%w: approver %q authored workbasket %s", ErrApprovalDenied, approver, wb.ID)
	}
	return nil
}

// AllowAllApprovals authorizes every approval.
type AllowAllApprovals struct{}

// AuthorizeApproval authorizes approval.
func (AllowAllApprovals) AuthorizeApproval(context.Context, domain.Workbasket, string) error {
	return nil
}

// nopLogger discards events.
type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// nopMetrics discards observations.
type nopMetrics struct{}

func (nopMetrics) ObserveTransition(domain.WorkbasketStatus, domain.WorkbasketStatus) {}
func (nopMetrics) ObserveVersions(domain.Kind, domain.UpdateType, int)               {}
func (nopMetrics) ObserveQuery(string, float64)                                      {}
