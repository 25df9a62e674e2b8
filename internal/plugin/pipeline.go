package plugin

// Pipeline is the sorted, per-request chain of plugin instances built
// by Registry.Build. Its Run* methods implement the phase ordering and
// error/stop semantics of spec.md §4.5.
type Pipeline struct {
	instances []instance

	// ran records which instances access_filter reached. RunLog does not
	// consult it: Log runs on every instance in the pipeline.
	ran map[string]bool
}

// RunAccessFilter runs access_filter on every plugin in order until one
// Stops or Errors.
func (p *Pipeline) RunAccessFilter(s *Session, c *Ctx) Result {
	p.ran = map[string]bool{}
	for _, inst := range p.instances {
		p.ran[inst.name] = true
		hook, ok := inst.plugin.(AccessFilter)
		if !ok {
			continue
		}
		res := hook.AccessFilter(s, c)
		if res.Verdict != Continue {
			return res
		}
	}
	return ok()
}

// RunBeforeProxy runs before_proxy on every plugin in order.
func (p *Pipeline) RunBeforeProxy(s *Session, c *Ctx) Result {
	for _, inst := range p.instances {
		hook, isHook := inst.plugin.(BeforeProxy)
		if !isHook {
			continue
		}
		res := hook.BeforeProxy(s, c)
		if res.Verdict != Continue {
			return res
		}
	}
	return ok()
}

// RunUpstreamRequestFilter runs upstream_request_filter on every plugin.
func (p *Pipeline) RunUpstreamRequestFilter(s *Session, c *Ctx) Result {
	for _, inst := range p.instances {
		hook, isHook := inst.plugin.(UpstreamRequestFilter)
		if !isHook {
			continue
		}
		res := hook.UpstreamRequestFilter(s, c)
		if res.Verdict != Continue {
			return res
		}
	}
	return ok()
}

// RunUpstreamResponseFilter runs upstream_response_filter on every plugin.
func (p *Pipeline) RunUpstreamResponseFilter(s *Session, c *Ctx) Result {
	for _, inst := range p.instances {
		hook, isHook := inst.plugin.(UpstreamResponseFilter)
		if !isHook {
			continue
		}
		res := hook.UpstreamResponseFilter(s, c)
		if res.Verdict != Continue {
			return res
		}
	}
	return ok()
}

// RunResponseBodyFilter runs response_body_filter on every plugin for
// one chunk, in order. Hooks must be monotone: chunks are delivered in
// the order this method is called by the lifecycle, including a final
// call with chunk.EndOfStream == true.
func (p *Pipeline) RunResponseBodyFilter(s *Session, c *Ctx, chunk *BodyChunk) Result {
	for _, inst := range p.instances {
		hook, isHook := inst.plugin.(ResponseBodyFilter)
		if !isHook {
			continue
		}
		res := hook.ResponseBodyFilter(s, c, chunk)
		if res.Verdict != Continue {
			return res
		}
	}
	return ok()
}

// RunLog runs the log hook exactly once for every plugin that
// implements it, regardless of whether the plugin observed an earlier
// phase — log hooks are terminal and run unconditionally per spec.md
// §4.6 step 10 / §8's "exactly one log invocation per participating
// plugin" invariant. "Participating" here means present in the
// assembled pipeline, not merely the subset that ran before a stop.
func (p *Pipeline) RunLog(s *Session, c *Ctx) {
	for _, inst := range p.instances {
		if hook, isHook := inst.plugin.(LogHook); isHook {
			hook.Log(s, c)
		}
	}
}
