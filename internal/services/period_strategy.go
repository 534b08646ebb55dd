// Package services holds the commands that change the ledger: the integrity
// reconciler, the recurring scheduler and the bulk executor.
//
// This file implements the Strategy Pattern for advancing a recurring rule by one
// period. Each frequency has its own advancer.
package services

import (
	"fmt"

	"conti/internal/core"
)

// PeriodAdvancer is the strategy interface for moving a due date forward by one period.
type PeriodAdvancer interface {
	// Next returns the occurrence that follows due. It must be strictly after due.
	Next(due core.Date) core.Date
}

// WeeklyAdvancer adds seven days.
type WeeklyAdvancer struct{}

func (WeeklyAdvancer) Next(due core.Date) core.Date {
	return due.AddDays(7)
}

// MonthlyAdvancer keeps the day of month, clamped to the end of shorter months.
type MonthlyAdvancer struct{}

func (MonthlyAdvancer) Next(due core.Date) core.Date {
	return due.AddMonthsClamped(1)
}

// YearlyAdvancer keeps month and day; Feb 29 becomes Feb 28 in non-leap years.
type YearlyAdvancer struct{}

func (YearlyAdvancer) Next(due core.Date) core.Date {
	return due.AddMonthsClamped(12)
}

// advancers must cover exactly the frequencies core.Frequency.Valid accepts.
var advancers = map[core.Frequency]PeriodAdvancer{
	core.Weekly:  WeeklyAdvancer{},
	core.Monthly: MonthlyAdvancer{},
	core.Yearly:  YearlyAdvancer{},
}

// GetPeriodAdvancer returns the advancer for a frequency.
func GetPeriodAdvancer(frequency core.Frequency) (PeriodAdvancer, error) {
	a, ok := advancers[frequency]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrInvalidFrequency, frequency)
	}
	return a, nil
}

// NextDueDate advances a rule by exactly one period.
func NextDueDate(rule core.RecurringRule) (core.Date, error) {
	a, err := GetPeriodAdvancer(rule.Frequency)
	if err != nil {
		return core.Date{}, err
	}
	return a.Next(rule.NextDueDate), nil
}
