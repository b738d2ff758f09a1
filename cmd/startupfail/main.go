// Command startupfail is the sample application that fails on startup in the
// way selected by ASPNETCORE_INPROCESS_STARTUP_VALUE.
package main

import (
	"os"

	"github.com/programme-lv/ancm/internal/faultapp"
)

func main() {
	os.Exit(faultapp.Main())
}
