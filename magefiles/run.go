//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Runs the demo scene in a window with the example configuration.
func (Run) Demo() error {
	fmt.Println("Run rendercore...")
	_, err := executeCmd("go", withArgs("run", "./cmd/rendercore", "-config", "cmd/rendercore/rendercore.toml"), withStream())
	return err
}

// Renders the demo scene for a few frames into the recording device, without a window or GPU.
func (Run) Headless() error {
	_, err := executeCmd("go", withArgs("run", "./cmd/rendercore", "-headless", "-frames", "10", "-log-level", "debug"), withStream())
	return err
}

// Runs the unit tests of every package.
func Test() error {
	args := []string{"test", "./..."}
	if mg.Verbose() {
		args = append(args, "-v")
	}
	_, err := executeCmd("go", withArgs(args...), withStream())
	return err
}
