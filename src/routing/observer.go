package routing

// Observer receives engine events. Callbacks run synchronously after the
// engine has released its locks, so implementations may call back into the
// engine but should return quickly.
type Observer interface {
	MappingChanged(mapping RouteMapping)
	DecisionRecorded(decision RoutingDecision)
	OutcomeRecorded(outcome Outcome)
}

// BaseObserver implements Observer with no-ops for embedding.
type BaseObserver struct{}

func (BaseObserver) MappingChanged(RouteMapping) {}
func (BaseObserver) DecisionRecorded(RoutingDecision) {}
func (BaseObserver) OutcomeRecorded(Outcome) {}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	OnMappingChanged   func(RouteMapping)
	OnDecisionRecorded func(RoutingDecision)
	OnOutcomeRecorded  func(Outcome)
}

func (f ObserverFuncs) MappingChanged(m RouteMapping) {
	if f.OnMappingChanged != nil {
		f.OnMappingChanged(m)
	}
}

func (f ObserverFuncs) DecisionRecorded(d RoutingDecision) {
	if f.OnDecisionRecorded != nil {
		f.OnDecisionRecorded(d)
	}
}

func (f ObserverFuncs) OutcomeRecorded(o Outcome) {
	if f.OnOutcomeRecorded != nil {
		f.OnOutcomeRecorded(o)
	}
}

// AddObserver subscribes an observer to engine events
func (e *Engine) AddObserver(o Observer) {
	if o == nil {
		return
	}
	e.observersMu.Lock()
	defer e.observersMu.Unlock()
	e.observers = append(e.observers, o)
}

func (e *Engine) observerSnapshot() []Observer {
	e.observersMu.RLock()
	defer e.observersMu.RUnlock()
	return append([]Observer(nil), e.observers...)
}

func (e *Engine) notify(event string, fn func(Observer)) {
	for _, o := range e.observerSnapshot() {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("observer panicked handling %s: %v", event, r)
				}
			}()
			fn(o)
		}()
	}
}

func (e *Engine) notifyMapping(m RouteMapping) {
	e.notify("mapping change", func(o Observer) { o.MappingChanged(m) })
}

func (e *Engine) notifyAllMappings() {
	if len(e.observerSnapshot()) == 0 {
		return
	}
	all := e.mappings.All()
	for _, category := range AllCategories() {
		if m, ok := all[category]; ok {
			e.notifyMapping(m)
		}
	}
}

func (e *Engine) notifyDecision(d RoutingDecision) {
	e.notify("decision", func(o Observer) { o.DecisionRecorded(d) })
}

func (e *Engine) notifyOutcome(out Outcome) {
	e.notify("outcome", func(o Observer) { o.OutcomeRecorded(out) })
}
