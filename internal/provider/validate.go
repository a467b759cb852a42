package provider

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
)

var (
	storagePattern  = regexp.MustCompile(`^[0-9a-zA-Z-]+$`)
	templatePattern = regexp.MustCompile(`^[0-9a-zA-Z.:/_-]+$`)

	validateOnce sync.Once
	structs      *validator.Validate
)

func validate() *validator.Validate {
	validateOnce.Do(func() {
		structs = validator.New(validator.WithRequiredStructEnabled())
		_ = structs.RegisterValidation("storage_name", func(fl validator.FieldLevel) bool {
			return storagePattern.MatchString(fl.Field().String())
		})
		_ = structs.RegisterValidation("template_ref", func(fl validator.FieldLevel) bool {
			v := fl.Field().String()
			return v == "" || templatePattern.MatchString(v)
		})
	})
	return structs
}

type fieldRule struct {
	key     string
	message string
}

// rowRules maps ModuleRow fields onto host error keys.
var rowRules = map[string]fieldRule{
	"Name":     {"server_name.empty", "Please enter a server label."},
	"User":     {"user.empty", "Please enter a user."},
	"Password": {"password.empty", "Please enter a password."},
	"Host":     {"host.format", "The hostname appears to be invalid."},
	"Port":     {"port.format", "Please enter a valid port number."},
	"VMID":     {"vmid.format", "Please enter a valid VMID."},
}

// packageRules maps PackageSpec fields onto host error keys.
var packageRules = map[string]fieldRule{
	"Type":            {KeyTypeValid, "Please select a valid virtualization type."},
	"Nodes":           {KeyNodesEmpty, "Please select at least one node."},
	"MemoryMB":        {"meta[memory].format", "Please set RAM."},
	"CPU":             {"meta[cpu].format", "Please set vCPU count."},
	"HDD":             {"meta[hdd].format", "Please set HDD size."},
	"NetSpeed":        {"meta[netspeed].format", "Please set NetSpeed."},
	"Storage":         {"meta[storage].format", "Please enter a valid storage."},
	"TemplateStorage": {"meta[template_storage].format", "Please enter a valid template storage."},
	"DefaultTemplate": {"meta[default_template].format", "Please enter a valid default template."},
	"Gateway":         {"meta[gateway].format", "Please enter a valid gateway address."},
}

// ValidateRow checks a module row before it is stored. The result is nil or a
// *multierror.Error of *Error values.
func ValidateRow(row ModuleRow) error {
	return structErrors(row, rowRules)
}

// ValidatePackage checks a package definition. Container packages also need a
// template storage and default template.
func ValidatePackage(pkg PackageSpec) error {
	return structErrors(pkg, packageRules)
}

// ValidateHostname accepts a domain name or an IP address.
func ValidateHostname(hostname string) error {
	if validate().Var(hostname, "required,max=253,hostname_rfc1123|ip") == nil {
		return nil
	}
	return &Error{Key: KeyHostnameFormat, Message: "The hostname appears to be invalid.", Err: fmt.Errorf("invalid hostname %q", hostname)}
}

// ValidateTemplate accepts a non-empty template file name.
func ValidateTemplate(name string) error {
	if name != "" && templatePattern.MatchString(name) {
		return nil
	}
	return &Error{Key: KeyTemplateValid, Message: "Please select a valid template.", Err: fmt.Errorf("invalid template %q", name)}
}

// MinRootPasswordLength is the shortest root password a user may choose.
const MinRootPasswordLength = 6

// ValidateRootPassword checks a user supplied root password. Empty means
// generate one and is accepted.
func ValidateRootPassword(password string) error {
	if password == "" || len(password) >= MinRootPasswordLength {
		return nil
	}
	return Errorf(KeyRootPasswordLength, "The root password must be at least %d characters in length.", MinRootPasswordLength)
}

func structErrors(v any, rules map[string]fieldRule) error {
	err := validate().Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	var result *multierror.Error
	seen := map[string]bool{}
	for _, fe := range fieldErrs {
		rule, ok := rules[fe.StructField()]
		if !ok {
			rule = fieldRule{
				key:     "meta[" + strings.ToLower(fe.StructField()) + "].format",
				message: fmt.Sprintf("%s failed the %q rule", fe.Field(), fe.Tag()),
			}
		}
		if seen[rule.key] {
			continue
		}
		seen[rule.key] = true
		result = multierror.Append(result, &Error{Key: rule.key, Message: rule.message})
	}
	return result.ErrorOrNil()
}
