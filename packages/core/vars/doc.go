// Package vars resolves {{...}} templates in request descriptors.
//
// A template is one of:
//   - {{name}}: a variable, or a value captured from an earlier response
//   - {{$NAME}}: an environment variable
//   - {{func(args)}}: a built-in function such as uuid() or timestamp()
//
// Unresolved templates are left in place and reported to the WarnFunc.
package vars
