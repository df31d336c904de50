package shield

import "net/http"

// HeadToGet serves HEAD with the GET route, so health probes that use HEAD
// get 200 instead of 405. net/http strips the body.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}
