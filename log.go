package aggtree

import "go.uber.org/zap"

// defaultLogger is a no-op sink, in the package-scoped logger-variable
// style of a zap-based consensus client (there backed by an internal
// façade over zap; here zap directly, since aggtree is a library with no
// ambient logging subsystem of its own to wrap). Override per-Engine
// with WithLogger.
func defaultLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
