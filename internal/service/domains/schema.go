package domains

import (
	"context"
	"sort"

	"github.com/semilimes/sgateway/internal/gateway"
	"github.com/semilimes/sgateway/pkg/json"
)

// registrationFormSchema describes the form a registrant fills before a
// domain purchase. Only the registrant contact is collected from the client;
// the remaining contacts are filled with the company's own data.
const registrationFormSchema = `{
	"$schema": "http://json-schema.org/draft-04/schema#",
	"title": "Domain Registration Form",
	"type": "object",
	"definitions": {
		"RegistrantPhone": {
			"type": "object",
			"properties": {
				"country_code": {"type": "string", "pattern": "^\\+\\d{1,3}$"},
				"global_number": {"type": "string", "pattern": "^\\d{6,14}$"}
			},
			"required": ["country_code", "global_number"]
		},
		"RegistrantAddress": {
			"type": "object",
			"properties": {
				"address1": {"type": "string", "format": "street-address", "maxLength": 41},
				"address2": {"type": "string", "format": "street-address2", "maxLength": 41},
				"city": {"type": "string", "format": "city-name", "maxLength": 30},
				"state": {
					"type": "string",
					"format": "state-province-territory",
					"description": "State or province or territory",
					"minLength": 2,
					"maxLength": 30
				},
				"postal_code": {
					"type": "string",
					"format": "postal-code",
					"description": "Postal or zip code",
					"minLength": 2,
					"maxLength": 10
				},
				"country": {"type": "string", "format": "iso-country-code", "minLength": 2, "maxLength": 2}
			},
			"required": ["address1", "city", "state", "postal_code", "country"]
		},
		"RegistrantContact": {
			"title": "Domain Registrant Contact",
			"type": "object",
			"properties": {
				"first_name": {"type": "string", "format": "person-name", "maxLength": 30},
				"last_name": {"type": "string", "format": "person-name", "maxLength": 30},
				"middle_name": {"type": "string", "format": "person-name", "maxLength": 30},
				"organization": {"type": "string", "format": "organization-name", "maxLength": 100},
				"email": {"type": "string", "format": "email", "maxLength": 80},
				"phone": {"$ref": "#/definitions/RegistrantPhone"},
				"fax": {"$ref": "#/definitions/RegistrantPhone"},
				"mailing_address": {"$ref": "#/definitions/RegistrantAddress"}
			},
			"required": ["first_name", "last_name", "middle_name", "organization", "email", "phone", "mailing_address"]
		}
	},
	"properties": {
		"registrant_contact": {"$ref": "#/definitions/RegistrantContact"}
	},
	"required": ["registrant_contact"]
}`

// clientFormSchema decodes a fresh copy of the form document. Callers merge
// per-registrar fields into it, so sharing one instance would leak fields
// between requests.
func clientFormSchema() (map[string]interface{}, error) {
	var schema map[string]interface{}
	if err := json.Unmarshal([]byte(registrationFormSchema), &schema); err != nil {
		return nil, gateway.NewInternalError("Registration form schema is malformed").WithCause(err)
	}
	return schema, nil
}

// registrationSchema is the client form extended with whatever extra fields
// the selected registrar wants for the domain, such as agreement keys.
func registrationSchema(ctx context.Context, prov gateway.Provider, domain string) (map[string]interface{}, error) {
	schema, err := clientFormSchema()
	if err != nil {
		return nil, err
	}
	if !prov.HasMethod("get_registration_extra_fields") {
		return schema, nil
	}

	result, err := prov.Call(ctx, "get_registration_extra_fields", domain)
	if err != nil {
		return nil, err
	}
	extra, _ := result.(map[string]interface{})
	if len(extra) == 0 {
		return schema, nil
	}

	properties, ok := schema["properties"].(map[string]interface{})
	if !ok {
		return nil, gateway.NewInternalError("Registration form schema is malformed")
	}
	required, _ := schema["required"].([]interface{})

	names := make([]string, 0, len(extra))
	for name := range extra {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		properties[name] = extra[name]
		required = append(required, name)
	}
	schema["required"] = required
	return schema, nil
}
