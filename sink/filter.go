package sink

// Filter is a pure predicate over a record. It must not block and
// must not retain the record. A nil Filter accepts everything.
type Filter func(*Record) bool

// MatchCriteria describe the standard per-sink record filter: for
// each non-empty criterion, a record carrying the corresponding
// well-known key passes only when its value is one of the allowed
// strings.
type MatchCriteria struct {
	Subsystems []string
	Clients    []string
	Requests   []string
}

// Empty reports whether no criterion is set.
func (c MatchCriteria) Empty() bool {
	return len(c.Subsystems) == 0 && len(c.Clients) == 0 && len(c.Requests) == 0
}

// FieldFilter compiles the criteria into a Filter. A criterion only
// constrains records that carry its key: a record without the key
// passes, so aggregate and internal records are not silenced by an
// event filter. An empty criteria set yields a nil (accept-all)
// filter.
func FieldFilter(criteria MatchCriteria) Filter {
	if criteria.Empty() {
		return nil
	}

	match := func(allowed []string, key string) func(*Record) bool {
		if len(allowed) == 0 {
			return nil
		}
		set := make(map[string]struct{}, len(allowed))
		for _, v := range allowed {
			set[v] = struct{}{}
		}
		return func(r *Record) bool {
			v, ok := r.Get(key)
			if !ok || v.Type() != TypeString {
				return true
			}
			_, ok = set[v.String()]
			return ok
		}
	}

	checks := []func(*Record) bool{}
	if f := match(criteria.Subsystems, KeySubsystem); f != nil {
		checks = append(checks, f)
	}
	if f := match(criteria.Clients, KeyClient); f != nil {
		checks = append(checks, f)
	}
	if f := match(criteria.Requests, KeyRequest); f != nil {
		checks = append(checks, f)
	}

	return func(r *Record) bool {
		for _, check := range checks {
			if !check(r) {
				return false
			}
		}
		return true
	}
}
