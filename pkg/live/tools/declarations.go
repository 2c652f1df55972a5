// Package tools answers the structured calls the remote assistant makes
// while it fills in a support case.
package tools

import "google.golang.org/genai"

// Tool names understood by the dispatcher.
const (
	UpdateCaseDetails = "updateCaseDetails"
	ProposeSolutions  = "proposeSolutions"
	CreateTicket      = "createTicket"
	SendEmail         = "sendEmail"
)

// Names lists the supported tools in declaration order.
func Names() []string {
	return []string{UpdateCaseDetails, ProposeSolutions, CreateTicket, SendEmail}
}

// Declarations returns the function declarations announced to the remote
// service when a session is set up.
func Declarations() []*genai.FunctionDeclaration {
	return []*genai.FunctionDeclaration{
		{
			Name:        UpdateCaseDetails,
			Description: "Update the case information shown to the user as they provide it.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"municipality": {Type: genai.TypeString, Description: "Name of the municipality."},
					"system":       {Type: genai.TypeString, Description: "Software system in use."},
					"problem":      {Type: genai.TypeString, Description: "Reported error or requirement."},
				},
			},
		},
		{
			Name:        ProposeSolutions,
			Description: "Show a list of proposed technical solutions. Must be called before creating a ticket.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"solutions": {
						Type:        genai.TypeArray,
						Items:       &genai.Schema{Type: genai.TypeString},
						Description: "Two to four short technical solutions.",
					},
				},
				Required: []string{"solutions"},
			},
		},
		{
			Name:        CreateTicket,
			Description: "Generate the support ticket code and set the case status.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"status": {Type: genai.TypeString, Description: "Case status, for example Pendiente, Resuelta or Derivada."},
				},
				Required: []string{"status"},
			},
		},
		{
			Name:        SendEmail,
			Description: "Send the ticket details and solutions to the user's e-mail address.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"confirmed": {Type: genai.TypeBoolean, Description: "True when the user explicitly asked for the e-mail."},
				},
				Required: []string{"confirmed"},
			},
		},
	}
}
