//go:build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
)

const (
	shaderSourceDir = "assets/shaders/glsl"
	shaderOutputDir = "assets/shaders/spirv"
)

type Build mg.Namespace

// Compiles the GLSL sources to SPIR-V with glslc.
func (Build) Shaders() error {
	return buildShaders()
}

// Builds the testbed binary into bin/.
func (Build) Engine() error {
	mg.Deps(Build.Shaders)
	if _, err := executeCmd("go", withArgs("build", "-o", "bin/prism", "."), withStream()); err != nil {
		return err
	}
	return nil
}

func buildShaders() error {
	var sources []string
	for _, ext := range []string{"vert", "geom", "frag"} {
		matches, err := filepath.Glob(filepath.Join(shaderSourceDir, "*."+ext))
		if err != nil {
			return err
		}
		sources = append(sources, matches...)
	}
	if len(sources) == 0 {
		return fmt.Errorf("no shader sources under %s", shaderSourceDir)
	}
	if err := os.MkdirAll(shaderOutputDir, 0o755); err != nil {
		return err
	}
	for _, src := range sources {
		out := filepath.Join(shaderOutputDir, filepath.Base(src)+".spv")
		if fresh, err := upToDate(src, out); err != nil {
			return err
		} else if fresh {
			continue
		}
		if _, err := executeCmd("glslc", withArgs(src, "-o", out), withStream()); err != nil {
			return err
		}
	}
	return nil
}

// upToDate reports whether out exists and is newer than src.
func upToDate(src, out string) (bool, error) {
	o, err := os.Stat(out)
	if os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	s, err := os.Stat(src)
	if err != nil {
		return false, err
	}
	return o.ModTime().After(s.ModTime()), nil
}

// Removes build outputs and compiled shaders.
func Clean() error {
	for _, p := range []string{"bin", shaderOutputDir} {
		fmt.Printf("Removing %s\n", p)
		if err := os.RemoveAll(p); err != nil {
			return err
		}
	}
	return nil
}
