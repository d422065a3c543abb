/*
Package envfile generates the key/value configuration file consumed by a
tenant's service instance.

The file is fully regenerated on every deployment attempt rather than
merged, so keys removed from the configuration cannot linger from earlier
deploys. It carries the tenant's database connection string, bot
credential, environment mode, and feature toggles.
*/
package envfile
