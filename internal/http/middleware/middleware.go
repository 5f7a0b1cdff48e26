// middleware содержит net/http-мидлвары публичного REST API authguard.
package middleware

import (
	"net/http"
)

// Middleware — стандартный net/http мидлвар.
type Middleware func(http.Handler) http.Handler

// Chain оборачивает h так, что первый мидлвар в списке выполняется первым.
// nil-элементы пропускаются: так удобно собирать цепочку из опциональных звеньев.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			h = mws[i](h)
		}
	}
	return h
}

// meter запоминает первый записанный статус и число байт тела.
type meter struct {
	http.ResponseWriter
	code  int
	bytes int
}

func newMeter(w http.ResponseWriter) *meter {
	return &meter{ResponseWriter: w}
}

func (m *meter) WriteHeader(code int) {
	if m.code == 0 {
		m.code = code
	}
	m.ResponseWriter.WriteHeader(code)
}

func (m *meter) Write(p []byte) (int, error) {
	if m.code == 0 {
		m.code = http.StatusOK
	}
	n, err := m.ResponseWriter.Write(p)
	m.bytes += n
	return n, err
}

// Status возвращает отправленный статус; 200, если обработчик ничего не писал.
func (m *meter) Status() int {
	if m.code == 0 {
		return http.StatusOK
	}
	return m.code
}

// Written сообщает, начат ли уже ответ.
func (m *meter) Written() bool { return m.code != 0 }

// Unwrap нужен http.ResponseController.
func (m *meter) Unwrap() http.ResponseWriter { return m.ResponseWriter }
