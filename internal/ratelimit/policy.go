package ratelimit

import (
	"strings"
	"time"
)

// Endpoint — класс эндпойнтов с собственной политикой.
type Endpoint string

const (
	EndpointDefault       Endpoint = "default"
	EndpointLogin         Endpoint = "login"
	EndpointRegister      Endpoint = "register"
	EndpointPasswordReset Endpoint = "password-reset"
	EndpointPayment       Endpoint = "payment"
	EndpointUpload        Endpoint = "upload"
	EndpointAdmin         Endpoint = "admin"
)

// Policy — параметры скользящего окна для класса эндпойнтов.
type Policy struct {
	Window  time.Duration
	Max     int
	Message string
}

const defaultMessage = "Too many requests, please try again later."

// DefaultPolicies возвращает таблицу политик по умолчанию.
// Каждый вызов возвращает новую карту.
func DefaultPolicies() map[Endpoint]Policy {
	return map[Endpoint]Policy{
		EndpointDefault:       {Window: 15 * time.Minute, Max: 100, Message: defaultMessage},
		EndpointLogin:         {Window: 15 * time.Minute, Max: 5, Message: "Too many login attempts, please try again later."},
		EndpointRegister:      {Window: time.Hour, Max: 3, Message: "Too many accounts created from this IP, please try again later."},
		EndpointPasswordReset: {Window: time.Hour, Max: 3, Message: "Too many password reset requests, please try again later."},
		EndpointPayment:       {Window: time.Minute, Max: 10, Message: "Too many payment requests, please slow down."},
		EndpointUpload:        {Window: time.Hour, Max: 20, Message: "Upload limit reached, please try again later."},
		EndpointAdmin:         {Window: time.Minute, Max: 30, Message: defaultMessage},
	}
}

// routes — соответствие последовательностей сегментов пути классам.
// Проверяются по порядку, первая найденная побеждает.
var routes = []struct {
	segments []string
	endpoint Endpoint
}{
	{[]string{"auth", "login"}, EndpointLogin},
	{[]string{"auth", "register"}, EndpointRegister},
	{[]string{"auth", "password-reset"}, EndpointPasswordReset},
	{[]string{"payments"}, EndpointPayment},
	{[]string{"uploads"}, EndpointUpload},
	{[]string{"admin"}, EndpointAdmin},
}

// Classify определяет класс эндпойнта по пути запроса. Совпадение ищется
// по целым сегментам в любом месте пути, поэтому префикс API
// ("/api/v1/auth/login") не мешает классификации.
func Classify(path string) Endpoint {
	segs := strings.Split(strings.Trim(path, "/"), "/")

	for _, r := range routes {
		if containsRun(segs, r.segments) {
			return r.endpoint
		}
	}

	return EndpointDefault
}

func containsRun(segs, run []string) bool {
	for i := 0; i+len(run) <= len(segs); i++ {
		match := true
		for j := range run {
			if segs[i+j] != run[j] {
				match = false
				break
			}
		}

		if match {
			return true
		}
	}

	return false
}
