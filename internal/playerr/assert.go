package playerr

import (
	"fmt"
	"log/slog"
)

// Assert reports an invariant violation. Builds tagged abrdebug panic; other
// builds log the violation and let the caller degrade.
func Assert(cond bool, logger *slog.Logger, format string, args ...any) bool {
	if cond {
		return true
	}
	msg := fmt.Sprintf(format, args...)
	if strictAssertions {
		panic(New(Critical, CategoryInvariant, CodeInvariantViolated, msg))
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error("invariant violated", slog.String("detail", msg))
	return false
}
