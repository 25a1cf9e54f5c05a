package shader

// HeightVertex frames the textured quad with the orthographic camera.
const HeightVertex = `#version 410 core
layout(location = 0) in vec2 aPosition;
layout(location = 1) in vec2 aTexCoord;

uniform mat4 uCamera;

out vec2 vTexCoord;

void main() {
    vTexCoord = aTexCoord;
    gl_Position = uCamera * vec4(aPosition, 0.0, 1.0);
}
`

// HeightFragment writes the selected elevation channel to every output
// channel, so readback is independent of the source encoding.
const HeightFragment = `#version 410 core
in vec2 vTexCoord;

uniform sampler2D uSource;
uniform int uChannel;

out vec4 fragColor;

void main() {
    float h = texture(uSource, vTexCoord)[uChannel];
    fragColor = vec4(h, h, h, h);
}
`
