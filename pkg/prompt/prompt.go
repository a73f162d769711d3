// Package prompt renders the instructions sent to the analyzer for each
// artifact kind, category and requester role.
package prompt

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/Sidhtang/medpassport/pkg/models"
)

// Input is everything a prompt may refer to.
type Input struct {
	Kind           models.ArtifactKind
	Category       string
	Role           string
	AdditionalInfo string
	// Text is the shortened report text or the rendered audio features.
	Text string
}

type view struct {
	Input
	Doctor   bool
	Audience string
	Focus    []string
}

const imageTmpl = `Professional analysis of {{.Category}} for {{.Audience}}.

Provide a detailed assessment of the visible structures and patterns in this diagnostic image.
Include anatomical observations, notable features, and potential areas of interest.
Context information: {{or .AdditionalInfo "None provided"}}

Format your response as a doctor explaining the findings, focusing on:
1. Key findings and their implications
2. Potential diagnoses and their explanations
3. Recommended next steps
4. Any immediate actions to take
5. Visible features explained in accessible language
6. The main factors causing the problem in **bold text**
{{if .Doctor}}
Include technical terminology and specific radiological observations.
Additionally, provide a 'Clinical Considerations' section with:
- Potential differential diagnoses based on imaging findings
- Recommended follow-up imaging studies if applicable
- Suggested laboratory tests that may complement these findings
- Potential treatment implications based on observed patterns
- Correlation with clinical presentation and patient history
- Discussion on the severity and urgency of findings
{{end}}`

const reportTmpl = `Summarize key findings in {{.Category}} for {{.Audience}}.
Report extract: {{.Text}}
Context: {{or .AdditionalInfo "None"}}
Provide only key findings, abnormal values, and actionable insights.
{{if .Doctor}}
Include detailed medical terminology and specific observations.
Provide a 'Clinical Considerations' section with:
- Potential differential diagnoses based on report findings
- Recommended follow-up tests or studies if applicable
- Suggested laboratory tests that may complement these findings
- Potential treatment implications based on observed patterns
- Detailed explanations of abnormal values and their significance
{{end}}`

const mediaTmpl = `Professional analysis of {{.Category}} for {{.Audience}}.
Analyze the recording focusing on:
{{range $i, $f := .Focus}}{{inc $i}}. {{$f}}
{{end}}{{with .AdditionalInfo}}
Clinical Context: {{.}}
{{end}}
Format your response as a structured analysis with clear sections:
1. **Technical Quality Assessment**
2. **Primary Findings**
3. **Clinical Interpretation**
4. **Recommendations**
5. **Important Notes**
{{if .Doctor}}
Additional Clinical Considerations:
- Differential diagnoses based on findings
- Recommended follow-up studies or tests
- Treatment implications
- Technical quality assessment of the recording
- Limitations of the analysis
{{end}}{{if .Text}}
Audio Analysis Data:
{{.Text}}

Please analyze these audio characteristics and provide insights based on the medical context.
{{end}}`

const suffix = "\nProvide a concise analysis focusing only on key findings. Keep response under 500 words."

var templates = template.Must(template.New("image").Parse(imageTmpl))

func init() {
	template.Must(templates.New("report").Parse(reportTmpl))
	template.Must(templates.New("media").Funcs(template.FuncMap{
		"inc": func(i int) int { return i + 1 },
	}).Parse(mediaTmpl))
}

var mediaFocus = map[string][]string{
	"Heart Sounds Analysis": {
		"Heart rate and rhythm patterns",
		"Presence of murmurs, gallops, or extra sounds",
		"S1 and S2 heart sound characteristics",
		"Any abnormal sounds (S3, S4, clicks, rubs)",
		"Clinical significance of findings",
	},
	"Lung Sounds Analysis": {
		"Breathing pattern and rate",
		"Presence of adventitious sounds (crackles, wheezes, rhonchi)",
		"Air entry quality in different lung zones",
		"Presence of stridor or pleural friction rubs",
		"Clinical implications",
	},
	"Voice Pattern Analysis": {
		"Voice quality (hoarseness, breathiness, roughness)",
		"Pitch and volume variations",
		"Speech articulation clarity",
		"Signs of vocal cord dysfunction",
	},
	"Ultrasound Video Analysis": {
		"Image quality and probe positioning",
		"Anatomical structures visible",
		"Echogenicity and texture patterns",
		"Pathological findings",
	},
	"Movement/Gait Analysis": {
		"Walking pattern and stride characteristics",
		"Balance and coordination",
		"Posture and alignment",
		"Signs of neurological impairment",
	},
}

var defaultFocus = []string{
	"Key observable or audible features",
	"Patterns and abnormalities",
	"Clinical significance",
	"Potential diagnostic considerations",
}

// Build renders the prompt for in.
func Build(in Input) (string, error) {
	v := view{Input: in, Doctor: in.Role == models.RoleDoctor, Audience: "patient"}
	if v.Doctor {
		v.Audience = "medical practitioner"
	}

	var name string
	switch in.Kind {
	case models.KindImage:
		name = "image"
	case models.KindText, models.KindPDF:
		name = "report"
	case models.KindAudio, models.KindVideo:
		name = "media"
		v.Focus = mediaFocus[in.Category]
		if v.Focus == nil {
			v.Focus = defaultFocus
		}
	default:
		return "", fmt.Errorf("no prompt for artifact kind %q", in.Kind)
	}

	var b strings.Builder
	if err := templates.ExecuteTemplate(&b, name, v); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", name, err)
	}
	b.WriteString(suffix)
	return b.String(), nil
}
