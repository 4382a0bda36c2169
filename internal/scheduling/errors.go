package scheduling

import "errors"

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrSlotNotFound        = errors.New("slot not found")
	ErrSchedulingConflict  = errors.New("you already have an appointment at this time")
	ErrSlotUnavailable     = errors.New("this slot is full or unavailable")
	ErrSlotContended       = errors.New("slot is currently being booked, please retry")
	ErrInvalidTransition   = errors.New("status change not permitted")
	ErrStatusChanged       = errors.New("appointment changed concurrently")
	ErrForbidden           = errors.New("not allowed for this principal")
)
