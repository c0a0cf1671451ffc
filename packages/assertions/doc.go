// Package assertions checks expectations on a response.
//
// An expectation reads "<subject> <operator> <value>":
//
//	status == 200
//	header Content-Type contains json
//	body.items length 3
//	body.items[0].id exists
//	body.role in ["admin", "owner"]
//	body.items each type object
//	duration < 500
//	body schema user.schema.json
//
// Subjects are resolved the way captures are: status, duration, a response
// header or a gjson path into the JSON body.
package assertions
