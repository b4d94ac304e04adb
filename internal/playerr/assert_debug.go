//go:build abrdebug

package playerr

const strictAssertions = true
