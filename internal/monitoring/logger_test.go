package monitoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetLogger(t *testing.T) {
	defer SetLogger(nil)

	var captured string
	SetLogger(func(format string, v ...interface{}) {
		captured = fmt.Sprintf(format, v...)
	})
	Logf("reach=%0.1fcm", 12.5)
	assert.Equal(t, "reach=12.5cm", captured)

	// nil installs a no-op logger rather than panicking.
	SetLogger(nil)
	Logf("dropped %d frames", 3)
	assert.Equal(t, "reach=12.5cm", captured)
}
