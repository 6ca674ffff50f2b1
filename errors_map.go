package docforest

import "docforest/dferrors"

func notFoundError(op string) error   { return dferrors.NotFound(op) }
func conflictError(op string) error   { return dferrors.Conflict(op) }
func badRequestError(op string) error { return dferrors.BadRequest(op) }
func goneError(op string) error       { return dferrors.Gone(op) }
