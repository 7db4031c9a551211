// Package sequence implements the per-prospect email sequence state machine.
//
// Each prospect carries five email slots per room, each moving through
// pending → generating → ready → sent → opened (failed is the retryable
// dead end for generation errors). The service layer owns every transition:
// AI generation with rollback on failure, the atomic copy/send bookkeeping,
// and open-pixel attribution. It depends on the Repository interface defined
// in this package and should never import from api/.
//
// Repository implementations live in repository/postgres/.
package sequence
