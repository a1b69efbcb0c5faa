package logging

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	ErrorCategoryTask     ErrorCategory = "task"
	ErrorCategoryDevice   ErrorCategory = "device"
	ErrorCategoryEmulator ErrorCategory = "emulator"
	ErrorCategoryRecovery ErrorCategory = "recovery"
	ErrorCategoryDatabase ErrorCategory = "database"
	ErrorCategoryConfig   ErrorCategory = "config"
	ErrorCategorySystem   ErrorCategory = "system"
)

// ErrorSeverity represents the severity of an error
type ErrorSeverity string

const (
	ErrorSeverityLow      ErrorSeverity = "low"
	ErrorSeverityMedium   ErrorSeverity = "medium"
	ErrorSeverityHigh     ErrorSeverity = "high"
	ErrorSeverityCritical ErrorSeverity = "critical"
)

// ErrorReport represents a detailed error report
type ErrorReport struct {
	Timestamp   time.Time
	Category    ErrorCategory
	Severity    ErrorSeverity
	Component   string
	Message     string
	Error       error
	Fields      []zap.Field
	Recoverable bool
}

// ErrorReporter logs errors and keeps a bounded history of them for the
// end-of-session summary
type ErrorReporter struct {
	logger         *zap.Logger
	errorHistory   []*ErrorReport
	errorHistoryMu sync.RWMutex
	maxHistory     int
	now            func() time.Time
}

// NewErrorReporter creates a reporter keeping the last maxHistory reports
func NewErrorReporter(logger *zap.Logger, maxHistory int) *ErrorReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxHistory < 1 {
		maxHistory = 1000
	}
	return &ErrorReporter{
		logger:     logger.Named("errors"),
		maxHistory: maxHistory,
		now:        time.Now,
	}
}

// Report logs and records a report
func (er *ErrorReporter) Report(report *ErrorReport) {
	report.Timestamp = er.now()
	er.logError(report)
	er.addToHistory(report)
}

// ReportError reports a recoverable error
func (er *ErrorReporter) ReportError(category ErrorCategory, severity ErrorSeverity, component, message string, err error, fields ...zap.Field) {
	er.Report(&ErrorReport{
		Category:    category,
		Severity:    severity,
		Component:   component,
		Message:     message,
		Error:       err,
		Fields:      fields,
		Recoverable: true,
	})
}

// ReportCriticalError reports a non-recoverable error
func (er *ErrorReporter) ReportCriticalError(category ErrorCategory, component, message string, err error, fields ...zap.Field) {
	er.Report(&ErrorReport{
		Category:  category,
		Severity:  ErrorSeverityCritical,
		Component: component,
		Message:   message,
		Error:     err,
		Fields:    fields,
	})
}

func (er *ErrorReporter) logError(report *ErrorReport) {
	fields := append([]zap.Field{
		zap.String("category", string(report.Category)),
		zap.String("severity", string(report.Severity)),
		zap.String("component", report.Component),
		zap.Bool("recoverable", report.Recoverable),
		zap.Error(report.Error),
	}, report.Fields...)

	switch report.Severity {
	case ErrorSeverityCritical, ErrorSeverityHigh:
		er.logger.Error(report.Message, fields...)
	case ErrorSeverityMedium:
		er.logger.Warn(report.Message, fields...)
	default:
		er.logger.Info(report.Message, fields...)
	}
}

func (er *ErrorReporter) addToHistory(report *ErrorReport) {
	er.errorHistoryMu.Lock()
	defer er.errorHistoryMu.Unlock()

	er.errorHistory = append(er.errorHistory, report)
	if len(er.errorHistory) > er.maxHistory {
		er.errorHistory = er.errorHistory[len(er.errorHistory)-er.maxHistory:]
	}
}

// GetRecentErrors returns the N most recent errors, oldest first
func (er *ErrorReporter) GetRecentErrors(n int) []*ErrorReport {
	er.errorHistoryMu.RLock()
	defer er.errorHistoryMu.RUnlock()

	if n > len(er.errorHistory) {
		n = len(er.errorHistory)
	}
	result := make([]*ErrorReport, n)
	copy(result, er.errorHistory[len(er.errorHistory)-n:])
	return result
}

// GetErrorStats counts errors by severity and category
func (er *ErrorReporter) GetErrorStats() map[string]int {
	er.errorHistoryMu.RLock()
	defer er.errorHistoryMu.RUnlock()

	stats := map[string]int{
		"total":           len(er.errorHistory),
		"recoverable":     0,
		"non_recoverable": 0,
	}
	for _, report := range er.errorHistory {
		stats[fmt.Sprintf("severity_%s", report.Severity)]++
		stats[fmt.Sprintf("category_%s", report.Category)]++
		if report.Recoverable {
			stats["recoverable"]++
		} else {
			stats["non_recoverable"]++
		}
	}
	return stats
}

