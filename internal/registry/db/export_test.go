package db

var IsUniqueViolation = isUniqueViolation
