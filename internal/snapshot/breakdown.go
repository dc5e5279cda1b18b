package snapshot

import (
	"sort"
	"strconv"

	"epp-monitor/internal/domain/epp"
)

const unknownChannel = "unknown"

func dailyTrend(entries []entry) []epp.DayCompliance {
	byDay := make(map[string]*epp.DayCompliance)
	for _, e := range entries {
		day := byDay[e.date]
		if day == nil {
			day = &epp.DayCompliance{Date: e.date}
			byDay[e.date] = day
		}
		day.ProcessedCount++
		if e.violation {
			day.ViolationCount++
		}
	}

	trend := make([]epp.DayCompliance, 0, len(byDay))
	for _, day := range byDay {
		day.CompliantCount = day.ProcessedCount - day.ViolationCount
		day.CompliancePct = CompliancePct(day.ProcessedCount, day.ViolationCount)
		trend = append(trend, *day)
	}
	sort.Slice(trend, func(i, j int) bool {
		return trend[i].Date < trend[j].Date
	})
	return trend
}

func hourly(dayEntries []entry) []epp.HourViolations {
	byHour := make(map[int]*epp.HourViolations)
	for _, e := range dayEntries {
		hour, ok := clockHour(e.clock)
		if !ok {
			continue
		}
		h := byHour[hour]
		if h == nil {
			h = &epp.HourViolations{Hour: hour}
			byHour[hour] = h
		}
		h.ProcessedCount++
		if e.violation {
			h.ViolationCount++
		}
	}

	out := make([]epp.HourViolations, 0, len(byHour))
	for _, h := range byHour {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Hour < out[j].Hour
	})
	return out
}

// clockHour reads HH from the time portion of a timestamp ("T10:00:00", " 10:00").
func clockHour(clock string) (int, bool) {
	if len(clock) < 3 {
		return 0, false
	}
	hour, err := strconv.Atoi(clock[1:3])
	if err != nil || hour < 0 || hour > 23 {
		return 0, false
	}
	return hour, true
}

func channels(dayEntries []entry) []epp.ChannelCompliance {
	byCanal := make(map[string]*epp.ChannelCompliance)
	for _, e := range dayEntries {
		canal := e.event.Canal
		if canal == "" {
			canal = unknownChannel
		}
		c := byCanal[canal]
		if c == nil {
			c = &epp.ChannelCompliance{Canal: canal}
			byCanal[canal] = c
		}
		c.ProcessedCount++
		if e.violation {
			c.ViolationCount++
		}
	}

	out := make([]epp.ChannelCompliance, 0, len(byCanal))
	for _, c := range byCanal {
		c.CompliancePct = CompliancePct(c.ProcessedCount, c.ViolationCount)
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ViolationCount != out[j].ViolationCount {
			return out[i].ViolationCount > out[j].ViolationCount
		}
		return out[i].Canal < out[j].Canal
	})
	return out
}
