package card

// WellKnownPath is where every remote agent publishes its capability descriptor.
const WellKnownPath = "/.well-known/agent-card.json"

// Skill represents a capability or function offered by an agent
type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
	Examples    []string `json:"examples,omitempty"`
	InputModes  []string `json:"inputModes,omitempty"`
	OutputModes []string `json:"outputModes,omitempty"`
}

// Provider contains information about the organization behind the agent
type Provider struct {
	Organization string `json:"organization"`
	URL          string `json:"url"`
}

// Capabilities defines what features the agent supports
type Capabilities struct {
	Streaming         bool `json:"streaming"`
	PushNotifications bool `json:"pushNotifications"`
	HistoryTracking   bool `json:"stateTransitionHistory"`
}

// AgentCard is the capability descriptor every remote agent publishes.
// A card is immutable once discovered; re-discovery replaces it wholesale.
type AgentCard struct {
	Name               string       `json:"name"`
	Description        string       `json:"description"`
	URL                string       `json:"url"`
	Version            string       `json:"version"`
	ProtocolVersion    string       `json:"protocolVersion"`
	Provider           *Provider    `json:"provider,omitempty"`
	Capabilities       Capabilities `json:"capabilities"`
	DefaultInputModes  []string     `json:"defaultInputModes"`
	DefaultOutputModes []string     `json:"defaultOutputModes"`
	Skills             []Skill      `json:"skills"`
}

// SkillByID returns the skill with the given id, if the card advertises it.
func (c *AgentCard) SkillByID(id string) (Skill, bool) {
	for _, s := range c.Skills {
		if s.ID == id {
			return s, true
		}
	}
	return Skill{}, false
}
