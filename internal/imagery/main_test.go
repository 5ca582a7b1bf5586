package imagery

import (
	"io"
	"os"
	"testing"

	"carrec/internal/logging"
)

func TestMain(m *testing.M) {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
	os.Exit(m.Run())
}
