// Package shader compiles GLSL programs and holds the height-pass shaders.
package shader

import (
	"fmt"

	"github.com/go-gl/gl/v4.1-core/gl"
)

// Program is a linked GLSL program with a uniform location cache.
type Program struct {
	ID       uint32
	uniforms map[string]int32
}

// Compile links vertex and fragment sources into a program.
func Compile(vertexSrc, fragmentSrc string) (*Program, error) {
	vert, err := compileStage(vertexSrc, gl.VERTEX_SHADER, "vertex")
	if err != nil {
		return nil, err
	}
	defer gl.DeleteShader(vert)

	frag, err := compileStage(fragmentSrc, gl.FRAGMENT_SHADER, "fragment")
	if err != nil {
		return nil, err
	}
	defer gl.DeleteShader(frag)

	id := gl.CreateProgram()
	gl.AttachShader(id, vert)
	gl.AttachShader(id, frag)
	gl.LinkProgram(id)

	var status int32
	gl.GetProgramiv(id, gl.LINK_STATUS, &status)
	if status == gl.FALSE {
		msg := infoLog(id, gl.GetProgramiv, gl.GetProgramInfoLog)
		gl.DeleteProgram(id)
		return nil, fmt.Errorf("link: %s", msg)
	}

	return &Program{ID: id, uniforms: make(map[string]int32)}, nil
}

func compileStage(source string, stage uint32, name string) (uint32, error) {
	id := gl.CreateShader(stage)
	csource, free := gl.Strs(source + "\x00")
	gl.ShaderSource(id, 1, csource, nil)
	free()
	gl.CompileShader(id)

	var status int32
	gl.GetShaderiv(id, gl.COMPILE_STATUS, &status)
	if status == gl.FALSE {
		msg := infoLog(id, gl.GetShaderiv, gl.GetShaderInfoLog)
		gl.DeleteShader(id)
		return 0, fmt.Errorf("%s shader: %s", name, msg)
	}
	return id, nil
}

func infoLog(id uint32, iv func(uint32, uint32, *int32), read func(uint32, int32, *int32, *uint8)) string {
	var n int32
	iv(id, gl.INFO_LOG_LENGTH, &n)
	if n == 0 {
		return "no info log"
	}
	buf := make([]byte, n)
	read(id, n, nil, &buf[0])
	return string(buf)
}

// Use makes the program current.
func (p *Program) Use() {
	gl.UseProgram(p.ID)
}

// Uniform returns the location of a required uniform.
func (p *Program) Uniform(name string) (int32, error) {
	if loc, ok := p.uniforms[name]; ok {
		return loc, nil
	}
	loc := gl.GetUniformLocation(p.ID, gl.Str(name+"\x00"))
	if loc < 0 {
		return -1, fmt.Errorf("uniform %q not found in program %d", name, p.ID)
	}
	p.uniforms[name] = loc
	return loc, nil
}

// Delete releases the program.
func (p *Program) Delete() {
	if p.ID != 0 {
		gl.DeleteProgram(p.ID)
		p.ID = 0
	}
}
