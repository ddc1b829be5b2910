//go:build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

const (
	shaderSrc = "shaders"
	shaderBin = "shaders/bin"
)

// Compiles every GLSL shader to SPIR-V with glslc.
func (Build) Shaders() error {
	return buildShaders()
}

// Builds the prism binary.
func (Build) Engine() error {
	mg.Deps(Build.Shaders)
	_, err := executeCmd("go", withArgs("build", "-o", "bin/prism", "."), withStream())
	return err
}

func buildShaders() error {
	if err := requireTool("glslc"); err != nil {
		return err
	}
	if err := os.MkdirAll(shaderBin, 0o755); err != nil {
		return err
	}
	sources, err := filepath.Glob(filepath.Join(shaderSrc, "*.glsl"))
	if err != nil {
		return err
	}
	for _, src := range sources {
		// cull.comp.glsl -> shaders/bin/cull.comp.spv
		name := strings.TrimSuffix(filepath.Base(src), ".glsl")
		stage := strings.TrimPrefix(filepath.Ext(name), ".")
		out := filepath.Join(shaderBin, name+".spv")
		args := []string{"-fshader-stage=" + stage, "--target-env=vulkan1.2", src, "-o", out}
		if _, err := executeCmd("glslc", withArgs(args...)); err != nil {
			return fmt.Errorf("failed to compile %s: %w", src, err)
		}
	}
	return nil
}
