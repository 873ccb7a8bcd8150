package httpengine

// status is an HTTP status code paired with its explicitly spelled reason
// phrase, since this engine never delegates to net/http's status text
// table.
type status int

const (
	statusOK                  status = 200
	statusBadRequest          status = 400
	statusUnauthorized        status = 401
	statusForbidden           status = 403
	statusNotFound            status = 404
	statusRequestTimeout      status = 408
	statusLocked              status = 423
	statusPayloadTooLarge     status = 413
	statusTooManyRequests     status = 429
)

var reasonPhrases = map[status]string{
	statusOK:              "OK",
	statusBadRequest:      "Bad Request",
	statusUnauthorized:    "Unauthorized",
	statusForbidden:       "Forbidden",
	statusNotFound:        "Not Found",
	statusRequestTimeout:  "Request Timeout",
	statusLocked:          "Locked",
	statusPayloadTooLarge: "Payload Too Large",
	statusTooManyRequests: "Too Many Requests",
}

func (s status) reasonPhrase() string {
	if phrase, ok := reasonPhrases[s]; ok {
		return phrase
	}
	return "Unknown"
}
