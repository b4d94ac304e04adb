//go:build !abrdebug

package playerr

const strictAssertions = false
