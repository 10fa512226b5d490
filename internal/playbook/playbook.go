// Package playbook holds the conversational assets the orchestrator is
// configured with: intent definitions with their required slots, handoff
// trigger phrases, and canned fallback responses per external dependency.
package playbook

import "strings"

// Slot is a named parameter an intent needs before it can be fulfilled.
type Slot struct {
	Name   string `yaml:"name"`
	Prompt string `yaml:"prompt"` // what to ask the user when the slot is missing
}

// Intent describes how one classified intent is fulfilled.
type Intent struct {
	Name           string `yaml:"name"`
	Description    string `yaml:"description,omitempty"`
	RequiredSlots  []Slot `yaml:"requiredSlots,omitempty"`
	Answer         string `yaml:"answer,omitempty"` // used when the knowledge base has no hit
	CreatesTicket  bool   `yaml:"createsTicket,omitempty"`
	TicketPriority string `yaml:"ticketPriority,omitempty"`
}

// Playbook is the merged result of all loaded YAML files plus defaults.
type Playbook struct {
	intents        map[string]Intent
	handoffPhrases []string          // lowercased
	fallbacks      map[string]string // dependency name → canned response
	responses      map[string]string // well-known response templates
}

// Response template keys.
const (
	RespNoMatch      = "no_match"
	RespConfirmation = "confirmation" // %s = intent name
	RespRephrase     = "rephrase"
	RespHandoff      = "handoff"
	RespHandoffWait  = "handoff_wait"
	RespSessionEnded = "session_ended"
	RespOverloaded   = "overloaded"
	RespTicketFiled  = "ticket_filed" // %s = ticket ID
	RespTicketQueued = "ticket_queued"
)

// Intent returns the definition for the given intent name.
func (p *Playbook) Intent(name string) (Intent, bool) {
	in, ok := p.intents[name]
	return in, ok
}

// Intents returns the number of configured intents.
func (p *Playbook) Intents() int { return len(p.intents) }

// MatchesHandoffPhrase reports whether the text contains an explicit
// "get me a human" request.
func (p *Playbook) MatchesHandoffPhrase(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range p.handoffPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// Fallback returns the canned response registered for a dependency name.
func (p *Playbook) Fallback(dependency string) string {
	if text, ok := p.fallbacks[dependency]; ok {
		return text
	}
	return p.responses[RespNoMatch]
}

// Response returns a well-known response template, falling back to the
// built-in default when a playbook file did not override it.
func (p *Playbook) Response(key string) string {
	return p.responses[key]
}

// Defaults returns the built-in playbook used when no YAML files exist.
func Defaults() *Playbook {
	return &Playbook{
		intents: map[string]Intent{
			"password_reset": {
				Name:   "password_reset",
				Answer: "You can reset your password at the self-service portal. A confirmation email will follow.",
				RequiredSlots: []Slot{
					{Name: "username", Prompt: "Which account should I reset the password for?"},
				},
			},
			"report_outage": {
				Name:           "report_outage",
				CreatesTicket:  true,
				TicketPriority: "high",
				RequiredSlots: []Slot{
					{Name: "service", Prompt: "Which service or system is down?"},
				},
				Answer: "I've logged the outage for the operations team.",
			},
			"general_question": {
				Name:   "general_question",
				Answer: "Here's what I found in the knowledge base.",
			},
		},
		handoffPhrases: []string{
			"talk to agent",
			"talk to a human",
			"speak to a person",
			"human please",
			"real person",
			"transfer me",
		},
		fallbacks: map[string]string{
			"classifier": "I'm having trouble understanding requests right now. Could you try again in a moment, or describe your issue differently?",
			"sentiment":  "",
			"knowledge":  "I can't reach the knowledge base right now, but I've noted your question.",
			"ticket":     "The ticketing system is unavailable; your request has been queued and will be filed automatically.",
		},
		responses: map[string]string{
			RespNoMatch:      "I'm not sure I understood that. Could you rephrase?",
			RespConfirmation: "Just to confirm: you're asking about %s?",
			RespRephrase:     "Sorry, that took longer than expected. Could you rephrase your request?",
			RespHandoff:      "I'm transferring you to a human agent. They'll pick up this conversation shortly.",
			RespHandoffWait:  "A human agent will be with you shortly; your message has been passed along.",
			RespSessionEnded: "This conversation has ended. Please start a new one.",
			RespOverloaded:   "I'm handling a lot of messages from this conversation; please wait a moment and try again.",
			RespTicketFiled:  "Ticket %s has been created. You'll receive updates by email.",
			RespTicketQueued: "Your ticket has been queued and will be filed as soon as the ticketing system is back.",
		},
	}
}
