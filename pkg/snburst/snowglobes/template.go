package snowglobes

import (
	"fmt"
	"strings"
	"text/template"
)

// globesTemplate mirrors the supernova.glb layout the toolkit ships: flux
// block, per-channel cross sections and smearing, detector target mass, and
// the channel/efficiency listing consumed by bin/supernova.
const globesTemplate = `// GLoBES configuration, generated for {{.Detector}}
$version="3.2.13"

/* Supernova flux */
nuflux(#supernova_flux)<
	@flux_file = "{{.FluxFile}}"
	@time = 0.0
	@norm = 1.0
>

$target_mass = {{printf "%.6f" .TargetMass}}

{{range .Channels}}cross(#{{.Name}})<
	@cross_file = "{{$.XsecDir}}/xs_{{.Name}}.dat"
>
{{end}}
{{range .Channels}}energy(#{{.Name}}_smear)<
	@type = 1
	@sigma_e = {0.0, 0.0, 0.0}
	@smear_data = include "{{$.SmearDir}}/smear_{{.Name}}_{{$.Detector}}.dat"
>
{{end}}
channel(#channel_list)<
{{range .Channels}}	@channel = #supernova_flux : {{.Parity}} : {{.Flavor}} : {{.Flavor}} : #{{.Name}} : #{{.Name}}_smear
{{end}}>

{{range $chan, $curve := .Efficiency}}%!efficiency #{{$chan}} = {{$curve}}
{{end}}
/* end of GLoBES configuration */
`

// ConfigData is the render context for the GLoBES configuration.
type ConfigData struct {
	FluxFile   string
	Detector   string
	TargetMass float64
	SmearDir   string
	XsecDir    string
	Channels   []Channel
	Efficiency map[string]string
}

var globesTmpl = template.Must(template.New("supernova.glb").Parse(globesTemplate))

// RenderConfig produces the GLoBES configuration text for one run.
func RenderConfig(data ConfigData) (string, error) {
	var sb strings.Builder
	if err := globesTmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("rendering GLoBES config: %w", err)
	}
	return sb.String(), nil
}
