// Package aaptools provides the built-in automation controller operations.
// Every tool launches a fixed job template with extra_vars assembled from
// its arguments, then waits the job to completion through the poller.
package aaptools

import (
	"context"
	"fmt"
	"strings"

	"github.com/aapchat/aapchat/pkg/aap"
	"github.com/aapchat/aapchat/pkg/config"
	"github.com/aapchat/aapchat/pkg/tools"
)

// ValidCredentialTypes is the controller's credential-type catalog accepted
// by create_credential.
var ValidCredentialTypes = []string{
	"Machine", "Source Control", "Network", "Amazon Web Services",
	"OpenStack", "VMware vCenter", "Red Hat Satellite 6",
	"Red Hat Virtualization", "Red Hat Ansible Automation Platform",
	"GitHub Personal Access Token", "GitLab Personal Access Token",
	"Microsoft Azure Resource Manager", "Google Compute Engine",
	"Ansible Galaxy/Automation Hub API Token", "Container Registry",
	"HashiCorp Vault Secret Lookup", "HashiCorp Vault Signed SSH",
	"CyberArk Central Credential Provider Lookup",
	"CyberArk Conjur Secret Lookup", "Thycotic DevOps Secrets Vault",
	"Thycotic Secret Server", "Centrify Vault Credential Provider Lookup",
	"Microsoft Azure Key Vault", "OpenShift or Kubernetes API Bearer Token",
	"GPG Public Key", "Insights", "Vault",
}

var validSCMTypes = []string{"git", "manual"}

var validJobTypes = []string{"run", "check"}

type launcher interface {
	LaunchJob(ctx context.Context, creds aap.Credentials, templateID int, extraVars map[string]any) (int, error)
}

type waiter interface {
	Wait(ctx context.Context, creds aap.Credentials, jobID int) aap.PollResult
}

// templateTool is one catalog entry. buildVars validates the call's
// arguments and produces the template's extra_vars; a nil vars map with an
// empty message means "launch with an empty payload" (the list operations).
type templateTool struct {
	name        string
	description string
	templateID  int
	params      map[string]any
	label       string
	buildVars   func(args map[string]any) (map[string]any, string)

	client launcher
	poller waiter
}

func (t *templateTool) Name() string               { return t.name }
func (t *templateTool) Description() string        { return t.description }
func (t *templateTool) Parameters() map[string]any { return t.params }

func (t *templateTool) Execute(ctx context.Context, args map[string]any) *tools.ToolResult {
	creds, err := tools.CredentialsFromArgs(args)
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("%s error: %v", t.label, err)).WithError(err)
	}

	var vars map[string]any
	if t.buildVars != nil {
		var problem string
		vars, problem = t.buildVars(args)
		if problem != "" {
			return tools.ErrorResult(problem)
		}
	}

	jobID, err := t.client.LaunchJob(ctx, creds, t.templateID, vars)
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("%s error: %v", t.label, err)).WithError(err)
	}

	result := t.poller.Wait(ctx, creds, jobID)
	if result.Outcome == aap.OutcomeSuccess {
		return tools.NewToolResult(result.Output)
	}
	return tools.ErrorResult(fmt.Sprintf("%s failed:\n%s", t.label, result.Output))
}

// RegisterAll wires the full built-in catalog into the registry. Template
// ids come from configuration.
func RegisterAll(reg *tools.ToolRegistry, client *aap.Client, poller *aap.Poller, tpl config.TemplatesConfig) {
	for _, t := range Catalog(client, poller, tpl) {
		reg.Register(t)
	}
}

// Catalog builds the twelve built-in operations.
func Catalog(client launcher, poller waiter, tpl config.TemplatesConfig) []tools.Tool {
	entries := []*templateTool{
		createOrganizationTool(tpl.CreateOrganization),
		createCredentialTool(tpl.CreateCredential),
		listTool("list_organizations", tpl.ListOrganizations, "List organizations",
			"List all organizations in Ansible Automation Platform with their names and IDs."),
		listTool("list_users", tpl.ListUsers, "List users",
			"List all users in Ansible Automation Platform with their usernames and details."),
		createUserTool(tpl.CreateUser),
		createInventoryTool(tpl.CreateInventory),
		listTool("list_inventories", tpl.ListInventories, "List inventories",
			"List all inventories in Ansible Automation Platform with their names and organizations."),
		listTool("list_credentials", tpl.ListCredentials, "List credentials",
			"List all credentials in Ansible Automation Platform with their names and types. Credential secrets are never returned."),
		createProjectTool(tpl.CreateProject),
		listTool("list_projects", tpl.ListProjects, "List projects",
			"List all projects in Ansible Automation Platform with their names, SCM types and status."),
		createJobTemplateTool(tpl.CreateJobTemplate),
		listTool("list_job_templates", tpl.ListJobTemplates, "List job templates",
			"List all job templates in Ansible Automation Platform with their names, projects and playbooks."),
	}

	result := make([]tools.Tool, 0, len(entries))
	for _, e := range entries {
		e.client = client
		e.poller = poller
		result = append(result, e)
	}
	return result
}

func createOrganizationTool(templateID int) *templateTool {
	return &templateTool{
		name:        "create_organization",
		description: "Create a new organization in Ansible Automation Platform. Requires org_name; org_description, org_galaxy_credentials and org_default_environment are optional.",
		templateID:  templateID,
		label:       "Organization creation",
		params: objectSchema(map[string]any{
			"org_name":                stringProp("Name of the organization to create"),
			"org_description":         stringProp("Description of the organization"),
			"org_galaxy_credentials":  stringProp("Name of galaxy credential to associate with the organization"),
			"org_default_environment": stringProp("Default execution environment for the organization"),
		}, "org_name"),
		buildVars: func(args map[string]any) (map[string]any, string) {
			name := strArg(args, "org_name")
			if name == "" {
				return nil, "Missing required argument: org_name"
			}
			return map[string]any{
				"org_name":                name,
				"org_description":         strArg(args, "org_description"),
				"org_galaxy_credentials":  strArg(args, "org_galaxy_credentials"),
				"org_default_environment": strArg(args, "org_default_environment"),
			}, ""
		},
	}
}

func createCredentialTool(templateID int) *templateTool {
	return &templateTool{
		name:        "create_credential",
		description: "Create a new credential in Ansible Automation Platform. Requires credential_name, credential_organization and credential_type (one of the controller credential types, e.g. Machine, Source Control, Vault).",
		templateID:  templateID,
		label:       "Credential creation",
		params: objectSchema(map[string]any{
			"credential_name":         stringProp("Name of the credential to create"),
			"credential_organization": stringProp("Organization to associate the credential with"),
			"credential_type":         enumProp("Type of credential to create", ValidCredentialTypes),
			"credential_description":  stringProp("Description of the credential"),
		}, "credential_name", "credential_organization", "credential_type"),
		buildVars: func(args map[string]any) (map[string]any, string) {
			name := strArg(args, "credential_name")
			org := strArg(args, "credential_organization")
			credType := strArg(args, "credential_type")
			if name == "" || org == "" || credType == "" {
				return nil, "Missing required arguments: credential_name, credential_organization and credential_type are all required"
			}
			if !contains(ValidCredentialTypes, credType) {
				return nil, fmt.Sprintf("Invalid credential_type: '%s'\nValid types are: %s",
					credType, strings.Join(ValidCredentialTypes, ", "))
			}
			return map[string]any{
				"credential_name":         name,
				"credential_organization": org,
				"credential_type":         credType,
				"credential_description":  strArg(args, "credential_description"),
			}, ""
		},
	}
}

func createUserTool(templateID int) *templateTool {
	return &templateTool{
		name:        "create_user",
		description: "Create a new user in Ansible Automation Platform. Requires user_username and user_password; email, names, organization and superuser/auditor flags are optional.",
		templateID:  templateID,
		label:       "User creation",
		params: objectSchema(map[string]any{
			"user_username":          stringProp("Username for the new user"),
			"user_password":          stringProp("Password for the new user"),
			"user_email":             stringProp("Email address"),
			"user_first_name":        stringProp("First name"),
			"user_last_name":         stringProp("Last name"),
			"user_organization":      stringProp("Organization to associate the user with"),
			"user_is_superuser":      boolProp("Grant superuser status"),
			"user_is_system_auditor": boolProp("Grant system auditor status"),
		}, "user_username", "user_password"),
		buildVars: func(args map[string]any) (map[string]any, string) {
			username := strArg(args, "user_username")
			password := strArg(args, "user_password")
			if username == "" || password == "" {
				return nil, "Missing required arguments: user_username and user_password are both required"
			}
			return map[string]any{
				"user_username":          username,
				"user_password":          password,
				"user_is_superuser":      boolArg(args, "user_is_superuser"),
				"user_is_system_auditor": boolArg(args, "user_is_system_auditor"),
				"user_email":             strArg(args, "user_email"),
				"user_first_name":        strArg(args, "user_first_name"),
				"user_last_name":         strArg(args, "user_last_name"),
				"user_organization":      strArg(args, "user_organization"),
			}, ""
		},
	}
}

func createInventoryTool(templateID int) *templateTool {
	return &templateTool{
		name:        "create_inventory",
		description: "Create a new inventory in Ansible Automation Platform. Requires inventory_name and inventory_organization; description and variables are optional.",
		templateID:  templateID,
		label:       "Inventory creation",
		params: objectSchema(map[string]any{
			"inventory_name":         stringProp("Name of the inventory to create"),
			"inventory_organization": stringProp("Organization to associate the inventory with"),
			"inventory_description":  stringProp("Description of the inventory"),
			"inventory_variables":    stringProp("Inventory variables in YAML or JSON format"),
		}, "inventory_name", "inventory_organization"),
		buildVars: func(args map[string]any) (map[string]any, string) {
			name := strArg(args, "inventory_name")
			org := strArg(args, "inventory_organization")
			if name == "" || org == "" {
				return nil, "Missing required arguments: inventory_name and inventory_organization are both required"
			}
			return map[string]any{
				"inventory_name":         name,
				"inventory_organization": org,
				"inventory_description":  strArg(args, "inventory_description"),
				"inventory_variables":    strArg(args, "inventory_variables"),
			}, ""
		},
	}
}

func createProjectTool(templateID int) *templateTool {
	return &templateTool{
		name:        "create_project",
		description: "Create a new project in Ansible Automation Platform. Requires project_name, project_organization and project_scm_type (git or manual); SCM URL, branch, credential and update flags are optional.",
		templateID:  templateID,
		label:       "Project creation",
		params: objectSchema(map[string]any{
			"project_name":                 stringProp("Name of the project to create"),
			"project_organization":         stringProp("Organization to associate the project with"),
			"project_scm_type":             enumProp("Source control type", validSCMTypes),
			"project_description":          stringProp("Description of the project"),
			"project_scm_url":              stringProp("Source control URL (required for git projects)"),
			"project_scm_branch":           stringProp("Source control branch or tag"),
			"project_scm_credential":       stringProp("Credential for source control access"),
			"project_scm_update_on_launch": boolProp("Update the project before each job launch"),
			"project_scm_delete_on_update": boolProp("Delete local repository before each update"),
			"project_scm_clean":            boolProp("Discard local changes before each update"),
		}, "project_name", "project_organization", "project_scm_type"),
		buildVars: func(args map[string]any) (map[string]any, string) {
			name := strArg(args, "project_name")
			org := strArg(args, "project_organization")
			scmType := strArg(args, "project_scm_type")
			if name == "" || org == "" || scmType == "" {
				return nil, "Missing required arguments: project_name, project_organization and project_scm_type are all required"
			}
			if !contains(validSCMTypes, scmType) {
				return nil, fmt.Sprintf("Invalid project_scm_type: '%s'\nValid types are: %s",
					scmType, strings.Join(validSCMTypes, ", "))
			}
			return map[string]any{
				"project_name":                 name,
				"project_organization":         org,
				"project_scm_type":             scmType,
				"project_scm_update_on_launch": boolArg(args, "project_scm_update_on_launch"),
				"project_scm_delete_on_update": boolArg(args, "project_scm_delete_on_update"),
				"project_scm_clean":            boolArg(args, "project_scm_clean"),
				"project_description":          strArg(args, "project_description"),
				"project_scm_url":              strArg(args, "project_scm_url"),
				"project_scm_branch":           strArg(args, "project_scm_branch"),
				"project_scm_credential":       strArg(args, "project_scm_credential"),
			}, ""
		},
	}
}

func createJobTemplateTool(templateID int) *templateTool {
	return &templateTool{
		name:        "create_job_template",
		description: "Create a new job template in Ansible Automation Platform. Requires job_template_name, job_template_job_type (run or check), job_template_inventory, job_template_project and job_template_playbook; verbosity (0-4), credentials, limit, extra vars, tags and ask-on-launch flags are optional.",
		templateID:  templateID,
		label:       "Job template creation",
		params: objectSchema(map[string]any{
			"job_template_name":                     stringProp("Name of the job template to create"),
			"job_template_job_type":                 enumProp("Job type", validJobTypes),
			"job_template_inventory":                stringProp("Inventory to run against"),
			"job_template_project":                  stringProp("Project containing the playbook"),
			"job_template_playbook":                 stringProp("Playbook file to run, e.g. site.yml"),
			"job_template_description":              stringProp("Description of the job template"),
			"job_template_credentials":              stringProp("Comma-separated credential names to attach"),
			"job_template_limit":                    stringProp("Host pattern limiting the run"),
			"job_template_extra_vars":               stringProp("Extra variables in YAML or JSON format"),
			"job_template_tags":                     stringProp("Playbook tags to run"),
			"job_template_skip_tags":                stringProp("Playbook tags to skip"),
			"job_template_verbosity":                intProp("Verbosity level 0-4"),
			"job_template_ask_variables_on_launch":  boolProp("Prompt for variables on launch"),
			"job_template_ask_limit_on_launch":      boolProp("Prompt for limit on launch"),
			"job_template_ask_tags_on_launch":       boolProp("Prompt for tags on launch"),
			"job_template_ask_skip_tags_on_launch":  boolProp("Prompt for skip tags on launch"),
			"job_template_ask_inventory_on_launch":  boolProp("Prompt for inventory on launch"),
			"job_template_ask_credential_on_launch": boolProp("Prompt for credential on launch"),
		}, "job_template_name", "job_template_job_type", "job_template_inventory",
			"job_template_project", "job_template_playbook"),
		buildVars: func(args map[string]any) (map[string]any, string) {
			name := strArg(args, "job_template_name")
			jobType := strArg(args, "job_template_job_type")
			inventory := strArg(args, "job_template_inventory")
			project := strArg(args, "job_template_project")
			playbook := strArg(args, "job_template_playbook")
			if name == "" || jobType == "" || inventory == "" || project == "" || playbook == "" {
				return nil, "Missing required arguments: job_template_name, job_template_job_type, job_template_inventory, job_template_project and job_template_playbook are all required"
			}
			if !contains(validJobTypes, jobType) {
				return nil, fmt.Sprintf("Invalid job_template_job_type: '%s'\nValid types are: %s",
					jobType, strings.Join(validJobTypes, ", "))
			}
			verbosity := intArg(args, "job_template_verbosity")
			if verbosity < 0 || verbosity > 4 {
				return nil, fmt.Sprintf("Invalid job_template_verbosity: %d. Must be between 0 and 4.", verbosity)
			}

			credentials := []string{}
			if raw := strArg(args, "job_template_credentials"); raw != "" {
				for _, c := range strings.Split(raw, ",") {
					if trimmed := strings.TrimSpace(c); trimmed != "" {
						credentials = append(credentials, trimmed)
					}
				}
			}

			return map[string]any{
				"job_template_name":                     name,
				"job_template_job_type":                 jobType,
				"job_template_inventory":                inventory,
				"job_template_project":                  project,
				"job_template_playbook":                 playbook,
				"job_template_verbosity":                verbosity,
				"job_template_ask_variables_on_launch":  boolArg(args, "job_template_ask_variables_on_launch"),
				"job_template_ask_limit_on_launch":      boolArg(args, "job_template_ask_limit_on_launch"),
				"job_template_ask_tags_on_launch":       boolArg(args, "job_template_ask_tags_on_launch"),
				"job_template_ask_skip_tags_on_launch":  boolArg(args, "job_template_ask_skip_tags_on_launch"),
				"job_template_ask_inventory_on_launch":  boolArg(args, "job_template_ask_inventory_on_launch"),
				"job_template_ask_credential_on_launch": boolArg(args, "job_template_ask_credential_on_launch"),
				"job_template_description":              strArg(args, "job_template_description"),
				"job_template_credentials":              credentials,
				"job_template_limit":                    strArg(args, "job_template_limit"),
				"job_template_extra_vars":               strArg(args, "job_template_extra_vars"),
				"job_template_tags":                     strArg(args, "job_template_tags"),
				"job_template_skip_tags":                strArg(args, "job_template_skip_tags"),
			}, ""
		},
	}
}

func listTool(name string, templateID int, label, description string) *templateTool {
	return &templateTool{
		name:        name,
		description: description,
		templateID:  templateID,
		label:       label,
		params:      objectSchema(map[string]any{}),
	}
}

func objectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		req := make([]any, 0, len(required))
		for _, r := range required {
			req = append(req, r)
		}
		schema["required"] = req
	}
	return schema
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func boolProp(description string) map[string]any {
	return map[string]any{"type": "boolean", "description": description}
}

func intProp(description string) map[string]any {
	return map[string]any{"type": "integer", "description": description}
}

func enumProp(description string, values []string) map[string]any {
	enum := make([]any, 0, len(values))
	for _, v := range values {
		enum = append(enum, v)
	}
	return map[string]any{"type": "string", "description": description, "enum": enum}
}

func strArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func boolArg(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}

func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
