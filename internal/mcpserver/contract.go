package mcpserver

// GuardFormatContract describes the two hand-written inputs of a guarded
// project: annotation comments on entity classes and the policy file.
const GuardFormatContract = `# Railguard Input Format

A project carries two kinds of hand-written input. Everything else is
derived from the source tree.

## Annotations

Annotations are Ruby comments in entity files (` + "`" + `app/models/*.rb` + "`" + `).

` + "```" + `ruby
# @guard owner user_id
# @guard readable_by :admin, :owner
class Post < ActiveRecord::Base
end
` + "```" + `

1. One annotation per line: ` + "`" + `# @guard name args` + "`" + `. The name is an identifier;
   the arguments are copied verbatim into the guard declaration. Other
   ` + "`" + `@` + "`" + ` tags, such as YARD's ` + "`" + `@param` + "`" + ` and ` + "`" + `@return` + "`" + `, are not annotations.
2. Lines inside ` + "`" + `=begin` + "`" + `/` + "`" + `=end` + "`" + ` blocks and after ` + "`" + `__END__` + "`" + ` are ignored.
3. Each annotation becomes ` + "`" + `guard :name, args` + "`" + ` at the top of the class body,
   but only when the class derives, directly or transitively, from a
   configured base class.

## Policy file

The policy file (default ` + "`" + `config/config.gr` + "`" + `, relative to the project root)
is line oriented. It is optional.

Lines 1 to 10 name the handler for each access-violation kind, in this order:

1. single_model_read
2. many_model_read
3. model_create
4. model_destroy
5. att_read
6. att_write
7. singular_assoc_read
8. singular_assoc_write
9. plural_assoc_read
10. plural_assoc_write

Text after ` + "`" + `#` + "`" + ` on these lines is a comment. An empty line leaves the kind
without a handler.

Every line after line 10 is the pass-user block. It is copied verbatim into
the body of ` + "`" + `guard_pass_user` + "`" + ` in the application helper and must evaluate
to the acting user.

## Example

` + "```" + `
raise_error      # single_model_read
filter_out
raise_error
raise_error
nil_out
raise_error
nil_out
raise_error
filter_out
raise_error
user = current_user
user || User.anonymous
` + "```" + `
`
