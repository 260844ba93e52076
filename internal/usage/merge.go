package usage

import "time"

const (
	noteMissingResets = "missing reset timestamps; populated usage only"
	noteResetsOnly    = "reset timestamps present without usage percentages"
	noteNoMetrics     = "no usage metrics detected; set manual values in config"
)

// Reconcile merges an observation with manual overrides into a status record.
// Extracted values win field by field; manual values fill the gaps. A nil
// observation is treated as empty.
func Reconcile(provider Provider, obs *Observation, manual ManualOverride, now time.Time) StatusRecord {
	var parsed Observation
	if obs != nil {
		parsed = *obs
	}

	rec := StatusRecord{
		Provider:        provider,
		SessionUsedPct:  firstFloat(parsed.SessionUsedPct, manual.SessionUsedPct),
		SessionResetsAt: firstTime(parsed.SessionResetsAt, manual.SessionResetAt),
		WeeklyUsedPct:   firstFloat(parsed.WeeklyUsedPct, manual.WeeklyUsedPct),
		WeeklyResetsAt:  firstTime(parsed.WeeklyResetsAt, manual.WeeklyResetAt),
		LastUpdatedAt:   now.UTC(),
		Details:         parsed.Details,
	}

	parsedAny := parsed.any()
	manualAny := manual.Any()

	switch {
	case parsedAny && manualAny:
		rec.Source = SourceMixed
	case parsedAny:
		rec.Source = SourceParsed
	default:
		rec.Source = SourceManual
	}

	messages := make([]string, 0, len(parsed.Notes)+1)
	messages = append(messages, parsed.Notes...)

	switch {
	case rec.SessionUsedPct != nil || rec.WeeklyUsedPct != nil:
		if rec.SessionResetsAt != nil || rec.WeeklyResetsAt != nil {
			rec.Status = HealthOK
		} else {
			rec.Status = HealthPartial
			messages = append(messages, noteMissingResets)
		}
	case parsedAny || manualAny:
		rec.Status = HealthPartial
		messages = append(messages, noteResetsOnly)
	default:
		rec.Status = HealthError
		messages = append(messages, noteNoMetrics)
	}

	rec.Messages = messages
	return rec
}

func firstFloat(vals ...*float64) *float64 {
	for _, v := range vals {
		if v != nil {
			c := *v
			return &c
		}
	}
	return nil
}

func firstTime(vals ...*time.Time) *time.Time {
	for _, v := range vals {
		if v != nil {
			c := v.UTC()
			return &c
		}
	}
	return nil
}
