package model

import "errors"

var ErrorInvalidUsernameOrPassword = errors.New("invalid username or password")
var ErrorUserNotFound = errors.New("user not found")
var ErrorUserExists = errors.New("user already exists")
var ErrorAccountLocked = errors.New("account locked")
var ErrorInvalidToken = errors.New("invalid or expired session")
var ErrorForbidden = errors.New("forbidden")
var ErrorMessageNotFound = errors.New("message not found")
var ErrorResponseNotFound = errors.New("response not found")
var ErrorEmptyResponse = errors.New("please provide a text response or record an audio response")
var ErrorInvalidLocation = errors.New("invalid location")
var ErrorMissingAudio = errors.New("no audio data received")
var ErrorInvalidEmail = errors.New("invalid email address")
var ErrorWeakPassword = errors.New("password should be at least 6 characters")
var ErrorInvalidRole = errors.New("role must be user or agent")
