package runtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/globaltrial/registry-pipeline/internal/domain"
	"github.com/globaltrial/registry-pipeline/internal/repos"
)

/*
Context is the one handle a Handler gets to the job it's executing and
the world around it: the job row, its decoded payload, and the means
to report progress, failure, or success.

Handlers never talk to the job repo directly for status transitions;
routing every transition through Context keeps the retry/backoff
policy (§4.2) in exactly one place.
*/
type Context struct {
	Ctx     context.Context
	Job     *domain.Job
	Repo    *repos.JobRepo
	payload map[string]any
}

func NewContext(ctx context.Context, job *domain.Job, repo *repos.JobRepo) (*Context, error) {
	c := &Context{Ctx: ctx, Job: job, Repo: repo}
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &c.payload); err != nil {
			return nil, fmt.Errorf("decode job payload: %w", err)
		}
	}
	if c.payload == nil {
		c.payload = map[string]any{}
	}
	return c, nil
}

// Payload returns the job's decoded JSON payload as a generic map.
func (c *Context) Payload() map[string]any { return c.payload }

// PayloadString returns payload[key] as a string, or ("", false) if
// absent or not a string.
func (c *Context) PayloadString(key string) (string, bool) {
	v, ok := c.payload[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// PayloadInt returns payload[key] coerced from JSON's float64 to int.
func (c *Context) PayloadInt(key string) (int, bool) {
	v, ok := c.payload[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}

// Succeed marks the job completed with the given result payload.
// Safe to call more than once for the same job id (idempotent per
// §4.2's at-least-once delivery contract).
func (c *Context) Succeed(result any) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode job result: %w", err)
	}
	return c.Repo.Complete(c.Ctx, c.Job.ID, encoded)
}

// Fail records cause as the job's last_error and lets the repo decide
// retry vs terminal failure per the backoff schedule in §4.2.
func (c *Context) Fail(cause error) error {
	return c.Repo.Fail(c.Ctx, c.Job.ID, cause)
}
