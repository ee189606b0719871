package util

import (
	"github.com/grafana/pyroscope-go"
	"github.com/rs/zerolog"
)

// StartProfiler pushes continuous profiles to a Pyroscope server. An empty
// address disables profiling; the returned stop func is always safe to call.
func StartProfiler(app, env, addr string, log zerolog.Logger) (func(), error) {
	if addr == "" {
		return func() {}, nil
	}
	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: app,
		ServerAddress:   addr,
		Tags:            map[string]string{"env": env},
		Logger:          profileLogger{log.With().Str("component", "pyroscope").Logger()},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileGoroutines,
		},
	})
	if err != nil {
		return func() {}, err
	}
	return func() { _ = profiler.Stop() }, nil
}

// profileLogger routes pyroscope's printf-style logging into zerolog.
type profileLogger struct{ log zerolog.Logger }

func (l profileLogger) Infof(format string, args ...any)  { l.log.Debug().Msgf(format, args...) }
func (l profileLogger) Debugf(format string, args ...any) { l.log.Trace().Msgf(format, args...) }
func (l profileLogger) Errorf(format string, args ...any) { l.log.Error().Msgf(format, args...) }
