package render

// Attribute locations shared by the shaders and the vertex array setup.
const (
	attrQuad     = 0
	attrPosition = 1
	attrRotation = 2
	attrScale    = 3
	attrColor    = 4
)

const splatVertexShader = `#version 410 core

layout(location = 0) in vec2 a_quad;
layout(location = 1) in vec3 a_position;
layout(location = 2) in vec4 a_rotation; // w, x, y, z
layout(location = 3) in vec3 a_scale;
layout(location = 4) in vec4 a_color;    // rgb, opacity

uniform mat4 u_projection;
uniform mat4 u_view;
uniform vec2 u_focal;
uniform vec2 u_viewport;

out vec4 v_color;
out vec2 v_offset;
out vec3 v_conic;

mat3 rotation(vec4 q) {
    float w = q.x, x = q.y, y = q.z, z = q.w;
    // mat3 takes columns.
    return mat3(
        1.0 - 2.0*(y*y + z*z), 2.0*(x*y + w*z), 2.0*(x*z - w*y),
        2.0*(x*y - w*z), 1.0 - 2.0*(x*x + z*z), 2.0*(y*z + w*x),
        2.0*(x*z + w*y), 2.0*(y*z - w*x), 1.0 - 2.0*(x*x + y*y)
    );
}

void main() {
    vec4 t4 = u_view * vec4(a_position, 1.0);
    vec3 t = t4.xyz;
    if (t.z > -0.01) {
        gl_Position = vec4(0.0, 0.0, 2.0, 1.0);
        return;
    }

    mat3 M = rotation(a_rotation) * mat3(
        a_scale.x, 0.0, 0.0,
        0.0, a_scale.y, 0.0,
        0.0, 0.0, a_scale.z
    );
    mat3 W = mat3(u_view);
    mat3 T = W * (M * transpose(M)) * transpose(W);

    float zi = 1.0 / t.z;
    float zi2 = zi * zi;
    mat3 J = mat3(
        u_focal.x * zi, 0.0, 0.0,
        0.0, u_focal.y * zi, 0.0,
        -u_focal.x * t.x * zi2, -u_focal.y * t.y * zi2, 0.0
    );
    mat3 cov = J * T * transpose(J);

    float a = cov[0][0] + 0.3;
    float b = cov[0][1];
    float d = cov[1][1] + 0.3;

    float det = a * d - b * b;
    float tr = a + d;
    float disc = sqrt(max(0.0, tr * tr - 4.0 * det));
    float lmax = max(0.5 * (tr + disc), 0.5 * (tr - disc));
    float radius = 3.0 * sqrt(lmax);

    vec2 offset = a_quad * 2.0 * radius;
    float detInv = 1.0 / max(det, 0.0001);
    v_conic = vec3(d * detInv, -b * detInv, a * detInv);
    v_offset = offset;
    v_color = a_color;

    gl_Position = u_projection * t4;
    gl_Position.xy += offset * (2.0 / u_viewport) * gl_Position.w;
}
`

const splatFragmentShader = `#version 410 core

in vec4 v_color;
in vec2 v_offset;
in vec3 v_conic;

out vec4 frag_color;

void main() {
    vec2 d = v_offset;
    float power = -0.5 * (v_conic.x * d.x * d.x + 2.0 * v_conic.y * d.x * d.y + v_conic.z * d.y * d.y);
    if (power > 0.0) {
        discard;
    }
    float alpha = exp(power) * v_color.a;
    if (alpha < 0.01) {
        discard;
    }
    frag_color = vec4(v_color.rgb, alpha);
}
`

// quadVertices is the unit quad drawn as a triangle fan.
var quadVertices = []float32{
	-0.5, -0.5,
	0.5, -0.5,
	0.5, 0.5,
	-0.5, 0.5,
}
