package agent

import "github.com/cronkit50/apate/internal/snowflake"

// Default tunables from spec.md §4.7, overridable via Config.
const (
	DefaultPrefilterCtx    = 50
	DefaultRelCtx          = 50
	DefaultOnStartBatch    = 5
	DefaultContinuousBatch = 50
	DefaultLongTermCtx     = 500
)

// Config carries the per-persona settings that parameterise the agent's
// decision pipeline. Zero values for the *Ctx/*Batch fields fall back to
// the package defaults above.
type Config struct {
	// SelfID identifies the agent's own outbound messages so the guard step
	// can recognise and ignore them.
	SelfID snowflake.ID

	FastModel    string
	PrimaryModel string

	// PrefilterPrompt must instruct the model to answer with a leading
	// yes/no token; PersonaPrompt is the agent's own system prompt used for
	// the generation call.
	PrefilterPrompt string
	PersonaPrompt   string

	PrefilterCtx    int
	RelCtx          int
	OnStartBatch    int
	ContinuousBatch int
	LongTermCtx     int
}

func (c Config) withDefaults() Config {
	if c.PrefilterCtx <= 0 {
		c.PrefilterCtx = DefaultPrefilterCtx
	}
	if c.RelCtx <= 0 {
		c.RelCtx = DefaultRelCtx
	}
	if c.OnStartBatch <= 0 {
		c.OnStartBatch = DefaultOnStartBatch
	}
	if c.ContinuousBatch <= 0 {
		c.ContinuousBatch = DefaultContinuousBatch
	}
	if c.LongTermCtx <= 0 {
		c.LongTermCtx = DefaultLongTermCtx
	}
	return c
}
