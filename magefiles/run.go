//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Runs the engine with the vulkan backend.
func (Run) Engine() error {
	if err := buildShaders(); err != nil {
		return err
	}
	fmt.Println("Run engine...")
	_, err := executeCmd("go", withArgs("run", ".", "--config", "prism.toml", "--backend", "vulkan"), withStream())
	return err
}

// Renders a few hundred frames on the software device.
func (Run) Headless() error {
	fmt.Println("Run headless...")
	_, err := executeCmd("go", withArgs("run", ".", "--config", "prism.toml", "--backend", "software", "--frames", "300"), withStream())
	return err
}

type Test mg.Namespace

// Runs every test with the race detector.
func (Test) All() error {
	_, err := executeCmd("go", withArgs("test", "-race", "./..."), withEnv("CGO_ENABLED=1"), withStream())
	return err
}

// Runs the packages that build without cgo: everything but the vulkan and glfw layers.
func (Test) Headless() error {
	pkgs := []string{
		"./engine/core/...", "./engine/containers/...", "./engine/math/...", "./engine/config/...",
		"./engine/systems/...", "./engine/scene/...", "./engine/renderer/graph/...",
		"./engine/renderer/soft/...", "./engine/renderer/culling/...", "./engine/renderer/views/...",
	}
	_, err := executeCmd("go", withArgs(append([]string{"test"}, pkgs...)...), withEnv("CGO_ENABLED=0"), withStream())
	return err
}
