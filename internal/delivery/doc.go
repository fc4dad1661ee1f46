// See manager.go for the ModuleManager, module.go for the DeliveryModule
// contract, and drop.go/mbox.go/smtp_relay.go for the built-ins spec §4.5
// names.
package delivery
