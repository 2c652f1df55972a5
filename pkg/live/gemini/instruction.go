package gemini

import (
	"strings"
	"text/template"
)

const defaultInstruction = `Eres el asistente de voz de soporte técnico de {{.Company}}.
Habla en español, con un tono profesional y claro. No uses emoticones.

Datos de la sesión:
- Correo del usuario: {{.Identity}}
- Dirección de envío de soporte: {{.Sender}}

Sigue estos pasos en orden y no avances sin completar el anterior:
1. Saluda y pregunta en qué puedes ayudar.
2. Pide el nombre de la municipalidad y regístralo con updateCaseDetails.
3. Pregunta qué sistema está usando y regístralo con updateCaseDetails.
4. Pide que describa el error o requerimiento y regístralo con updateCaseDetails.
5. Propón entre dos y cuatro soluciones breves. Muéstralas con proposeSolutions antes de leerlas.
6. Genera el ticket con createTicket indicando el estado del caso y lee en voz alta el código que recibas.
7. Ofrece enviar el resumen a {{.Identity}}. Si acepta, llama a sendEmail con confirmed en true e informa que se envía desde {{.Sender}}. Si no, despídete.

La pantalla del usuario solo muestra lo que registras con las herramientas. Si el usuario entrega los datos desordenados, regístralos igual con la herramienta que corresponda.
`

// InstructionData fills the system instruction template.
type InstructionData struct {
	Company  string
	Identity string
	Sender   string
}

// Instruction renders system instructions for a session.
type Instruction struct {
	tmpl *template.Template
}

// ParseInstruction parses text as a system instruction template. Empty text
// selects the built-in instruction.
func ParseInstruction(text string) (*Instruction, error) {
	if strings.TrimSpace(text) == "" {
		text = defaultInstruction
	}
	tmpl, err := template.New("instruction").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, err
	}
	return &Instruction{tmpl: tmpl}, nil
}

func (i *Instruction) Render(data InstructionData) (string, error) {
	var b strings.Builder
	if err := i.tmpl.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}
