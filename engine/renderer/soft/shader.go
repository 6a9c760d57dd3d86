package soft

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

// Shader sources are line oriented directives:
//
//	in <name>       declares a stage input
//	out <name>      declares a stage output
//	uniform <name>  declares a constant block, accepted and ignored
//	sampler <name>  declares a texture, accepted and ignored
//	#error <text>   fails compilation with exactly text as the diagnostic
//
// Blank lines and lines starting with // are skipped.
type shaderObject struct {
	stage    metadata.ShaderStage
	inputs   []string
	outputs  []string
	compiled bool
	log      string
}

type programObject struct {
	shaders   []uint32
	locations map[string]int
	linked    bool
	log       string
}

func parseShader(stage metadata.ShaderStage, source string) (*shaderObject, error) {
	s := &shaderObject{stage: stage}
	if strings.TrimSpace(source) == "" {
		return s, fmt.Errorf("0:0: empty shader source")
	}
	scanner := bufio.NewScanner(strings.NewReader(source))
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "//") {
			continue
		}
		if msg, ok := strings.CutPrefix(text, "#error"); ok {
			return s, errors.New(strings.TrimSpace(msg))
		}
		fields := strings.Fields(text)
		if len(fields) != 2 {
			return s, fmt.Errorf("0:%d: syntax error near `%s`", line, text)
		}
		switch fields[0] {
		case "in":
			s.inputs = append(s.inputs, fields[1])
		case "out":
			s.outputs = append(s.outputs, fields[1])
		case "uniform", "sampler":
		default:
			return s, fmt.Errorf("0:%d: unknown directive `%s`", line, fields[0])
		}
	}
	return s, scanner.Err()
}

// CreateShader compiles source right away; query the result with
// ShaderCompiled and ShaderInfoLog.
func (d *Device) CreateShader(stage metadata.ShaderStage, source string) uint32 {
	d.call("glCompileShader")
	name := d.genName()
	s, err := parseShader(stage, source)
	if err != nil {
		s.log = err.Error()
	} else {
		s.compiled = true
	}
	d.shaders[name] = s
	return name
}

func (d *Device) ShaderCompiled(name uint32) bool {
	s, ok := d.shaders[name]
	return ok && s.compiled
}

func (d *Device) ShaderInfoLog(name uint32) string {
	if s, ok := d.shaders[name]; ok {
		return s.log
	}
	return ""
}

func (d *Device) DeleteShader(name uint32) {
	d.call("glDeleteShader")
	delete(d.shaders, name)
}

func (d *Device) CreateProgram() uint32 {
	d.call("glCreateProgram")
	name := d.genName()
	d.programs[name] = &programObject{locations: make(map[string]int)}
	return name
}

func (d *Device) program(name uint32) *programObject {
	p, ok := d.programs[name]
	if !ok {
		d.setError(InvalidOperation)
		return nil
	}
	return p
}

func (d *Device) AttachShader(program, shader uint32) {
	d.call("glAttachShader")
	p := d.program(program)
	if p == nil {
		return
	}
	if _, ok := d.shaders[shader]; !ok {
		d.setError(InvalidOperation)
		return
	}
	p.shaders = append(p.shaders, shader)
}

func (d *Device) BindAttribLocation(program uint32, location int, name string) {
	d.call("glBindAttribLocation")
	p := d.program(program)
	if p == nil {
		return
	}
	if location < 0 {
		d.setError(InvalidValue)
		return
	}
	p.locations[name] = location
}

// LinkProgram matches each stage's inputs against the outputs of the stage
// before it. Vertex inputs must have a bound attribute location.
func (d *Device) LinkProgram(program uint32) bool {
	d.call("glLinkProgram")
	p := d.program(program)
	if p == nil {
		return false
	}
	byStage := map[metadata.ShaderStage]*shaderObject{}
	for _, name := range p.shaders {
		s := d.shaders[name]
		if s == nil || !s.compiled {
			p.log = "attached shader is not compiled"
			return false
		}
		byStage[s.stage] = s
	}
	vs, fs := byStage[metadata.ShaderStageVertex], byStage[metadata.ShaderStageFragment]
	if vs == nil || fs == nil {
		p.log = "program needs a vertex and a fragment shader"
		return false
	}

	var problems []string
	for _, in := range vs.inputs {
		if _, ok := p.locations[in]; !ok {
			problems = append(problems, fmt.Sprintf("vertex input `%s` has no layout element", in))
		}
	}
	previous := vs
	if gs := byStage[metadata.ShaderStageGeometry]; gs != nil {
		problems = append(problems, unmatched(gs, previous)...)
		previous = gs
	}
	problems = append(problems, unmatched(fs, previous)...)
	if len(problems) > 0 {
		p.log = strings.Join(problems, "\n")
		return false
	}
	p.linked = true
	p.log = ""
	return true
}

func unmatched(s, previous *shaderObject) []string {
	var problems []string
	for _, in := range s.inputs {
		found := false
		for _, out := range previous.outputs {
			if out == in {
				found = true
				break
			}
		}
		if !found {
			problems = append(problems, fmt.Sprintf("%s input `%s` is not written by the %s stage", s.stage, in, previous.stage))
		}
	}
	return problems
}

func (d *Device) ProgramLinked(name uint32) bool {
	p, ok := d.programs[name]
	return ok && p.linked
}

func (d *Device) ProgramInfoLog(name uint32) string {
	if p, ok := d.programs[name]; ok {
		return p.log
	}
	return ""
}

// AttribLocation returns -1 for unknown names, as drivers do.
func (d *Device) AttribLocation(program uint32, name string) int {
	if p, ok := d.programs[program]; ok {
		if loc, ok := p.locations[name]; ok {
			return loc
		}
	}
	return -1
}

func (d *Device) UseProgram(name uint32) {
	d.call("glUseProgram")
	if name != 0 {
		if p, ok := d.programs[name]; !ok || !p.linked {
			d.setError(InvalidOperation)
			return
		}
	}
	d.state.program = name
}

func (d *Device) DeleteProgram(name uint32) {
	d.call("glDeleteProgram")
	delete(d.programs, name)
	if d.state.program == name {
		d.state.program = 0
	}
}
