package classroom

import "errors"

var (
	ErrNotTeacher        = errors.New("only teachers can create classrooms")
	ErrNotStudent        = errors.New("only students can join by code")
	ErrNotMember         = errors.New("user is not a member of this classroom")
	ErrJoinCodeExhausted = errors.New("could not allocate a unique join code")
)
