package supervisor

import "log/slog"

// MultiReporter fans a status out to several reporters in order.
type MultiReporter []Reporter

func (m MultiReporter) Report(st Status) {
	for _, r := range m {
		if r != nil {
			r.Report(st)
		}
	}
}

// LogReporter logs every status change.
type LogReporter struct {
	Logger *slog.Logger
}

func (r LogReporter) Report(st Status) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	attrs := []any{"state", st.State.String()}
	if st.CheckPoint > 0 {
		attrs = append(attrs, "checkpoint", st.CheckPoint)
	}
	if st.ExitCode >= 0 {
		attrs = append(attrs, "exit_code", st.ExitCode)
	}
	if st.Err != nil {
		logger.Error("service status", append(attrs, "error", st.Err)...)
		return
	}
	logger.Debug("service status", attrs...)
}
