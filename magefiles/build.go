//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

// Compiles the built-in WGSL programs to SPIR-V under build/shaders and prints their reflected layouts.
func (Build) Shaders() error {
	_, err := executeCmd("go", withArgs("run", "./cmd/shaderc", "-in", "engine/renderer/assets", "-out", "build/shaders", "-report"), withStream())
	return err
}

// Builds the rendercore and shaderc binaries into build/.
func (Build) Binaries() error {
	mg.Deps(Build.Shaders)
	for _, cmd := range []string{"rendercore", "shaderc"} {
		if _, err := executeCmd("go", withArgs("build", "-o", "build/"+cmd, "./cmd/"+cmd)); err != nil {
			return err
		}
	}
	return nil
}
